package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxAttempts:   3,
		AttemptWindow: 5 * time.Second,
		BlockDuration: 10 * time.Second,
	}
}

func TestAdmission_AllowsWithinBudget(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if d := a.Check("u1", base.Add(time.Duration(i)*time.Second)); d != Admit {
			t.Fatalf("attempt %d: got %v, want Admit", i+1, d)
		}
	}
}

func TestAdmission_BlocksBeyondBudget(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if d := a.Check("u1", base.Add(time.Duration(i)*time.Second)); d != Admit {
			t.Fatalf("attempt %d: got %v, want Admit", i+1, d)
		}
	}

	// Fourth attempt inside the window trips the limiter.
	if d := a.Check("u1", base.Add(3*time.Second)); d != RejectRateLimited {
		t.Fatalf("attempt 4: got %v, want RejectRateLimited", d)
	}
}

func TestAdmission_RejectionRestartsCooldown(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		a.Check("u1", base.Add(time.Duration(i)*time.Second))
	}
	blockedAt := base.Add(3 * time.Second)

	// Attempting mid-cooldown is rejected and restarts the clock.
	retry := blockedAt.Add(9 * time.Second)
	if d := a.Check("u1", retry); d != RejectRateLimited {
		t.Fatalf("mid-cooldown: got %v, want RejectRateLimited", d)
	}

	// 9s after the retry the original cooldown would have elapsed, but the
	// restarted one has not.
	if d := a.Check("u1", retry.Add(9*time.Second)); d != RejectRateLimited {
		t.Fatalf("restarted cooldown: got %v, want RejectRateLimited", d)
	}
}

func TestAdmission_RecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		a.Check("u1", base.Add(time.Duration(i)*time.Second))
	}
	blockedAt := base.Add(3 * time.Second)

	if d := a.Check("u1", blockedAt.Add(10*time.Second)); d != Admit {
		t.Fatalf("after cooldown: got %v, want Admit", d)
	}
}

func TestAdmission_UsersAreIndependent(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		a.Check("u1", base.Add(time.Duration(i)*time.Second))
	}

	if d := a.Check("u2", base.Add(3*time.Second)); d != Admit {
		t.Fatalf("u2 first attempt: got %v, want Admit", d)
	}
}

func TestAdmission_SlowReconnectsNeverBlock(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// One attempt every 6s stays outside the 5s window forever.
	for i := 0; i < 10; i++ {
		if d := a.Check("u1", base.Add(time.Duration(i*6)*time.Second)); d != Admit {
			t.Fatalf("attempt %d: got %v, want Admit", i+1, d)
		}
	}
}

func TestAdmission_SweepDropsIdleRecords(t *testing.T) {
	t.Parallel()

	a := NewAdmissionController(testLogger(), testAdmissionConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	a.Check("u1", base)
	a.Check("u2", base)
	if got := a.size(); got != 2 {
		t.Fatalf("size before sweep: got %d, want 2", got)
	}

	// Idle threshold is 2x the block duration.
	if dropped := a.sweep(base.Add(21 * time.Second)); dropped != 2 {
		t.Fatalf("sweep dropped %d, want 2", dropped)
	}
	if got := a.size(); got != 0 {
		t.Fatalf("size after sweep: got %d, want 0", got)
	}
}
