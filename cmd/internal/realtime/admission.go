package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Decision is the admission outcome for a connection attempt.
type Decision uint8

const (
	// Admit allows the connection to proceed.
	Admit Decision = iota
	// RejectNoCredential refuses an attempt that presented no credential.
	RejectNoCredential
	// RejectInvalidCredential refuses an attempt whose credential failed
	// verification or whose backing session is gone.
	RejectInvalidCredential
	// RejectRateLimited refuses an attempt because the user's reconnect
	// budget is exhausted.
	RejectRateLimited
)

// String returns the metric/log label for the decision.
func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case RejectNoCredential:
		return "no_credential"
	case RejectInvalidCredential:
		return "invalid_credential"
	case RejectRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// AdmissionConfig tunes the reconnect limiter.
type AdmissionConfig struct {
	// MaxAttempts within AttemptWindow before the block engages.
	MaxAttempts   int
	AttemptWindow time.Duration

	// BlockDuration is the cooldown measured from the last attempt.
	BlockDuration time.Duration

	// GCInterval is how often idle attempt records are swept.
	GCInterval time.Duration
}

func (c AdmissionConfig) withDefaults() AdmissionConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = admissionMaxAttempts
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = admissionWindow
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = admissionBlockDuration
	}
	if c.GCInterval <= 0 {
		c.GCInterval = c.BlockDuration
	}
	return c
}

type attemptRecord struct {
	count       int
	lastAttempt time.Time
	blocked     bool
}

// AdmissionController suppresses reconnect storms with a per-user
// sliding-window attempt counter and a cooldown block.
//
// Callers verify the credential FIRST: attempts that fail identity
// verification never reach Check, so an unauthenticated peer cannot burn a
// victim's reconnect budget.
type AdmissionController struct {
	log *slog.Logger
	cfg AdmissionConfig

	mu      sync.Mutex
	records map[string]*attemptRecord
}

// NewAdmissionController constructs a controller with safe defaults for
// zero-valued config fields.
func NewAdmissionController(log *slog.Logger, cfg AdmissionConfig) *AdmissionController {
	return &AdmissionController{
		log:     log,
		cfg:     cfg.withDefaults(),
		records: make(map[string]*attemptRecord),
	}
}

// Check records a connection attempt for userID at time now and decides
// whether it may proceed.
//
// An admitted attempt clears the block flag; the windowed attempt count is
// kept so that rapid successful reconnects still trip the limiter.
func (a *AdmissionController) Check(userID string, now time.Time) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := a.records[userID]
	if rec == nil {
		a.records[userID] = &attemptRecord{count: 1, lastAttempt: now}
		return Admit
	}

	if rec.blocked {
		if now.Sub(rec.lastAttempt) < a.cfg.BlockDuration {
			// Every rejected attempt restarts the cooldown.
			rec.lastAttempt = now
			return RejectRateLimited
		}
		rec.blocked = false
		rec.count = 0
	}

	if now.Sub(rec.lastAttempt) < a.cfg.AttemptWindow {
		rec.count++
		if rec.count > a.cfg.MaxAttempts {
			rec.blocked = true
			rec.lastAttempt = now
			a.log.Info("admission.block", "user_id", userID, "attempts", rec.count)
			return RejectRateLimited
		}
	} else {
		rec.count = 1
	}

	rec.lastAttempt = now
	rec.blocked = false
	return Admit
}

// Run sweeps idle attempt records until ctx is cancelled. It is safe to run
// concurrently with Check.
func (a *AdmissionController) Run(ctx context.Context) {
	t := time.NewTicker(a.cfg.GCInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := a.sweep(now); n > 0 {
				a.log.Debug("admission.gc", "dropped", n)
			}
		}
	}
}

func (a *AdmissionController) sweep(now time.Time) int {
	idle := time.Duration(admissionIdleFactor) * a.cfg.BlockDuration

	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for id, rec := range a.records {
		if now.Sub(rec.lastAttempt) > idle {
			delete(a.records, id)
			dropped++
		}
	}
	return dropped
}

func (a *AdmissionController) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
