package memory

import (
	"context"
	"testing"
	"time"

	"limitgate/internal/storage"
)

func newTestStore() *RateLimitStore {
	// No cleanup goroutine in tests
	return NewRateLimitStore(&storage.Config{CleanupInterval: 0})
}

func TestRateLimitStore_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("count increases by one per request", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		for i := 1; i <= 5; i++ {
			d, err := s.Allow(ctx, "user-1", "scan", 10, time.Hour)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("request %d: expected allowed", i)
			}
			if d.RequestCount != i {
				t.Errorf("request %d: expected count %d, got %d", i, i, d.RequestCount)
			}
		}
	})

	t.Run("boundary at max requests", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		// 5th request in-window is allowed, 6th is denied
		for i := 1; i <= 5; i++ {
			d, err := s.Allow(ctx, "user-1", "scan", 5, time.Hour)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("request %d: expected allowed", i)
			}
		}

		d, err := s.Allow(ctx, "user-1", "scan", 5, time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Allowed {
			t.Fatal("expected 6th request to be denied")
		}
		if d.RetryAfter <= 0 {
			t.Errorf("expected positive retry-after, got %v", d.RetryAfter)
		}
		if d.RequestCount != 5 {
			t.Errorf("expected denied request to leave count at 5, got %d", d.RequestCount)
		}
	})

	t.Run("window reset", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		window := 20 * time.Millisecond
		for i := 0; i < 3; i++ {
			s.Allow(ctx, "user-1", "scan", 3, window)
		}
		d, _ := s.Allow(ctx, "user-1", "scan", 3, window)
		if d.Allowed {
			t.Fatal("expected denial at the limit")
		}

		time.Sleep(window + 5*time.Millisecond)

		d, err := s.Allow(ctx, "user-1", "scan", 3, window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatal("expected request after window elapsed to be allowed")
		}
		if d.RequestCount != 1 {
			t.Errorf("expected count reset to 1, got %d", d.RequestCount)
		}
	})

	t.Run("pairs are independent", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		s.Allow(ctx, "user-1", "scan", 1, time.Hour)
		d, _ := s.Allow(ctx, "user-1", "scan", 1, time.Hour)
		if d.Allowed {
			t.Fatal("expected user-1 scan to be exhausted")
		}

		d, _ = s.Allow(ctx, "user-2", "scan", 1, time.Hour)
		if !d.Allowed {
			t.Error("expected a different identifier to be unaffected")
		}
		d, _ = s.Allow(ctx, "user-1", "prompt", 1, time.Hour)
		if !d.Allowed {
			t.Error("expected a different endpoint to be unaffected")
		}
	})
}

func TestRateLimitStore_Purge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	defer s.Close()

	s.Allow(ctx, "old", "scan", 10, time.Hour)
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	s.Allow(ctx, "new", "scan", 10, time.Hour)

	deleted, err := s.Purge(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 record purged, got %d", deleted)
	}

	// The purged pair starts a fresh window
	d, _ := s.Allow(ctx, "old", "scan", 10, time.Hour)
	if d.RequestCount != 1 {
		t.Errorf("expected fresh window after purge, count=%d", d.RequestCount)
	}
}

func TestRateLimitStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	defer s.Close()

	s.Allow(ctx, "user-1", "scan", 10, time.Hour)
	s.Allow(ctx, "user-1", "scan", 10, time.Hour)

	if err := s.Reset(ctx, "user-1", "scan"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := s.Allow(ctx, "user-1", "scan", 10, time.Hour)
	if d.RequestCount != 1 {
		t.Errorf("expected count 1 after reset, got %d", d.RequestCount)
	}
}
