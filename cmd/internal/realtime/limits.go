package realtime

import "time"

// Security/performance limits.
// Keep these aligned with docs for the realtime v1 protocol.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxContentChars = 4000
)

const (
	// Admission defaults: a user gets admissionMaxAttempts connection
	// attempts inside admissionWindow before the block engages for
	// admissionBlockDuration.
	admissionMaxAttempts   = 3
	admissionWindow        = 5 * time.Second
	admissionBlockDuration = 10 * time.Second

	// Attempt records idle longer than this are garbage-collected.
	admissionIdleFactor = 2
)

const (
	// Heartbeat defaults (overridable via gateway config).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound event limits (events per window).
	eventRateLimit  = 120
	eventRateWindow = 10 * time.Second
)
