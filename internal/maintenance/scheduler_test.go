package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"limitgate/internal/storage"
	"limitgate/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPurge(t *testing.T) {
	rl := memory.NewRateLimitStore(storage.DefaultConfig())
	defer rl.Close()
	usage := memory.NewUsageStore()

	// Record a request, then purge with a future cutoff so it qualifies
	if _, err := rl.Allow(context.Background(), "ip:1.2.3.4", "api", 10, time.Millisecond); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	s := NewScheduler(&Config{PurgeOlderThan: -time.Second}, rl, usage, testLogger())
	s.runPurge()

	// A fresh request starts a new window at count 1
	d, err := rl.Allow(context.Background(), "ip:1.2.3.4", "api", 10, time.Hour)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if d.RequestCount != 1 {
		t.Errorf("count after purge = %d, want 1", d.RequestCount)
	}
}

func TestRunReset(t *testing.T) {
	rl := memory.NewRateLimitStore(storage.DefaultConfig())
	defer rl.Close()
	usage := memory.NewUsageStore()
	usage.SeedProfile(&storage.Profile{UserID: "u1", Plan: storage.PlanFree})
	usage.SetUsage(&storage.UsageMetrics{
		UserID:    "u1",
		ScanCount: 7,
		LastReset: time.Now().Add(-40 * 24 * time.Hour),
	})

	s := NewScheduler(&Config{ResetAfter: 30 * 24 * time.Hour}, rl, usage, testLogger())
	s.runReset()

	m, err := usage.Usage(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}
	if m.ScanCount != 0 {
		t.Errorf("scan count after reset = %d, want 0", m.ScanCount)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	rl := memory.NewRateLimitStore(storage.DefaultConfig())
	defer rl.Close()
	usage := memory.NewUsageStore()

	s := NewScheduler(DefaultConfig(), rl, usage, testLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s.Stop()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	rl := memory.NewRateLimitStore(storage.DefaultConfig())
	defer rl.Close()
	usage := memory.NewUsageStore()

	s := NewScheduler(&Config{PurgeSchedule: "not a cron spec"}, rl, usage, testLogger())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid cron spec")
	}
}
