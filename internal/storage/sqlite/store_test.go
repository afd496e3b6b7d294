package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"limitgate/internal/storage"
)

func intPtr(n int) *int { return &n }

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "limits.db")})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.UpsertPlanLimits(ctx, &storage.PlanLimits{
		Plan:           storage.PlanFree,
		MaxSites:       intPtr(1),
		MaxPrompts:     intPtr(1),
		MaxScans:       intPtr(10),
		MaxCompetitors: intPtr(3),
		MaxReports:     intPtr(2),
	}); err != nil {
		t.Fatalf("seeding free plan: %v", err)
	}
	if err := s.UpsertPlanLimits(ctx, &storage.PlanLimits{
		Plan: storage.PlanEnterprise,
	}); err != nil {
		t.Fatalf("seeding enterprise plan: %v", err)
	}
	if err := s.UpsertProfile(ctx, &storage.Profile{
		UserID: "u1", Email: "u1@example.com", Role: "user", Plan: storage.PlanFree,
	}); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}
	if err := s.UpsertProfile(ctx, &storage.Profile{
		UserID: "ent", Email: "ent@example.com", Role: "admin", Plan: storage.PlanEnterprise,
	}); err != nil {
		t.Fatalf("seeding enterprise profile: %v", err)
	}

	return s
}

func TestStore_UnderLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("fresh user is under limit", func(t *testing.T) {
		under, err := s.UnderLimit(ctx, "u1", storage.LimitScans)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !under {
			t.Error("expected fresh user under limit")
		}
	})

	t.Run("boundary at ceiling", func(t *testing.T) {
		// max_scans = 10: counts 1..9 stay under, 10 hits the ceiling
		for i := 0; i < 9; i++ {
			if _, err := s.Increment(ctx, "u1", storage.LimitScans); err != nil {
				t.Fatalf("increment %d: %v", i, err)
			}
		}
		under, err := s.UnderLimit(ctx, "u1", storage.LimitScans)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !under {
			t.Error("expected under limit at 9 of 10")
		}

		if _, err := s.Increment(ctx, "u1", storage.LimitScans); err != nil {
			t.Fatalf("increment: %v", err)
		}
		under, err = s.UnderLimit(ctx, "u1", storage.LimitScans)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if under {
			t.Error("expected at limit at 10 of 10")
		}
	})

	t.Run("null ceiling is unlimited", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			if _, err := s.Increment(ctx, "ent", storage.LimitScans); err != nil {
				t.Fatalf("increment %d: %v", i, err)
			}
		}
		under, err := s.UnderLimit(ctx, "ent", storage.LimitScans)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !under {
			t.Error("expected unlimited plan never to hit a ceiling")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.UnderLimit(ctx, "ghost", storage.LimitScans)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("sites are not metered", func(t *testing.T) {
		_, err := s.UnderLimit(ctx, "u1", storage.LimitSites)
		if !errors.Is(err, storage.ErrNotMetered) {
			t.Errorf("expected ErrNotMetered, got %v", err)
		}
	})
}

func TestStore_Increment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Increment(ctx, "u1", storage.LimitPrompts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 after first increment, got %d", n)
	}

	n, err = s.Increment(ctx, "u1", storage.LimitPrompts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 after second increment, got %d", n)
	}

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.Increment(ctx, "ghost", storage.LimitPrompts)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_Usage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Increment(ctx, "u1", storage.LimitScans)
	s.Increment(ctx, "u1", storage.LimitReports)
	s.Increment(ctx, "u1", storage.LimitReports)

	m, err := s.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ScanCount != 1 || m.ReportCount != 2 || m.PromptCount != 0 {
		t.Errorf("unexpected metrics %+v", m)
	}
	if m.LastReset.IsZero() {
		t.Error("expected last_reset to be stamped")
	}
}

func TestStore_ResetUsage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Increment(ctx, "u1", storage.LimitScans)
	if err := s.ResetUsage(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, _ := s.Usage(ctx, "u1")
	if m.ScanCount != 0 {
		t.Errorf("expected zeroed counters, got %+v", m)
	}

	if err := s.ResetUsage(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestStore_ResetAllBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Increment(ctx, "u1", storage.LimitScans)
	s.Increment(ctx, "ent", storage.LimitScans)

	// Only users whose last reset predates the cutoff are touched
	reset, err := s.ResetAllBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reset != 0 {
		t.Errorf("expected no users reset with past cutoff, got %d", reset)
	}

	reset, err = s.ResetAllBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reset != 2 {
		t.Errorf("expected both users reset, got %d", reset)
	}

	m, _ := s.Usage(ctx, "u1")
	if m.ScanCount != 0 {
		t.Error("expected counters zeroed by cycle reset")
	}
}

func TestStore_PlanLimits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	limits, err := s.PlanLimits(ctx, storage.PlanFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits.MaxScans == nil || *limits.MaxScans != 10 {
		t.Errorf("unexpected max_scans %v", limits.MaxScans)
	}

	unlimited, err := s.PlanLimits(ctx, storage.PlanEnterprise)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unlimited.MaxScans != nil {
		t.Errorf("expected nil (unlimited) max_scans, got %v", *unlimited.MaxScans)
	}

	if _, err := s.PlanLimits(ctx, storage.Plan("nonexistent")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Profile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Profile(ctx, "ent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != "admin" || p.Plan != storage.PlanEnterprise {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "limits.db")

	s, err := NewStore(Config{Path: path})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	s.UpsertPlanLimits(ctx, &storage.PlanLimits{Plan: storage.PlanFree, MaxScans: intPtr(5)})
	s.UpsertProfile(ctx, &storage.Profile{UserID: "u1", Plan: storage.PlanFree})
	s.Increment(ctx, "u1", storage.LimitScans)
	if err := s.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	reopened, err := NewStore(Config{Path: path})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	m, err := reopened.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ScanCount != 1 {
		t.Errorf("expected counter to survive reopen, got %d", m.ScanCount)
	}
}

func TestStore_Analytics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.Increment(ctx, "u1", storage.LimitScans); err != nil {
			t.Fatalf("incrementing: %v", err)
		}
	}
	if _, err := s.Increment(ctx, "ent", storage.LimitReports); err != nil {
		t.Fatalf("incrementing: %v", err)
	}

	snap, err := s.Analytics(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.TotalUsers != 2 {
		t.Errorf("total users = %d, want 2", snap.TotalUsers)
	}
	if snap.UsersByPlan["free"] != 1 {
		t.Errorf("users by plan = %v", snap.UsersByPlan)
	}
	if snap.TotalScans != 3 {
		t.Errorf("total scans = %d, want 3", snap.TotalScans)
	}
	if snap.TotalReports != 1 {
		t.Errorf("total reports = %d, want 1", snap.TotalReports)
	}
}
