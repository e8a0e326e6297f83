package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Websocket gateway policy.
	WSOriginRequired  bool
	WSAllowedOrigins  []string
	WSSendQueueSize   int
	WSWriteTimeout    time.Duration
	WSReadIdleTimeout time.Duration
	WSHeartbeat       time.Duration
	WSHeartbeatWait   time.Duration
	WSEventRateLimit  int
	WSEventRateWindow time.Duration

	// Connection admission policy (per-user reconnect budget).
	AdmissionMaxAttempts   int
	AdmissionAttemptWindow time.Duration
	AdmissionBlockDuration time.Duration

	// DevInsecure enables dev-only conveniences: an ephemeral signing key when
	// no PASETO key is configured, and the /dev/token endpoint.
	// Never enable in production.
	DevInsecure bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("TETHER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("TETHER_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("TETHER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("TETHER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TETHER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TETHER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TETHER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TETHER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TETHER_READINESS_REQUIRE_DB", false),

		WSOriginRequired:  EnvBool("TETHER_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:  EnvStrings("TETHER_WS_ALLOWED_ORIGINS", nil),
		WSSendQueueSize:   EnvInt("TETHER_WS_SEND_QUEUE", 256),
		WSWriteTimeout:    EnvDuration("TETHER_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout: EnvDuration("TETHER_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeat:       EnvDuration("TETHER_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatWait:   EnvDuration("TETHER_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSEventRateLimit:  EnvInt("TETHER_WS_EVENT_RATE_LIMIT", 120),
		WSEventRateWindow: EnvDuration("TETHER_WS_EVENT_RATE_WINDOW", 10*time.Second),

		AdmissionMaxAttempts:   EnvInt("TETHER_ADMISSION_MAX_ATTEMPTS", 3),
		AdmissionAttemptWindow: EnvDuration("TETHER_ADMISSION_WINDOW", 5*time.Second),
		AdmissionBlockDuration: EnvDuration("TETHER_ADMISSION_BLOCK", 10*time.Second),

		DevInsecure: EnvBool("TETHER_DEV_INSECURE", false),
	}
}
