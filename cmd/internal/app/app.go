// Package app wires the Tether server runtime: config, logging, HTTP routes,
// and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tether/cmd/internal/auth/session"
	"tether/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Tether server runtime: it owns HTTP server wiring and the
// realtime gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws      *realtime.Gateway
	promReg *prometheus.Registry

	devToken http.HandlerFunc
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	st, dbPool, dbEnabled, chatStore, err := newChatStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		if !cfg.DevInsecure {
			return nil, err
		}
		// Dev fallback: generate an ephemeral keypair so the server boots
		// without secrets. Tokens die with the process.
		sessCfg = session.NewEphemeralConfig()
		log.Warn("auth.ephemeral_key", "public_key_hint", "tokens will not survive restart")
	}

	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	var sessStore session.Store
	var memSessions *session.MemoryStore
	if dbEnabled {
		sessStore = session.NewPostgresStore(dbPool)
	} else {
		memSessions = session.NewMemoryStore()
		sessStore = memSessions
	}
	sessionSvc := session.NewService(sessCfg, sessStore, tokens)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(promReg)

	gwCfg := realtime.GatewayConfig{
		OriginRequired:    cfg.WSOriginRequired,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		DevInsecure:       cfg.DevInsecure,
		SendQueueSize:     cfg.WSSendQueueSize,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadIdleTimeout:   cfg.WSReadIdleTimeout,
		HeartbeatInterval: cfg.WSHeartbeat,
		HeartbeatTimeout:  cfg.WSHeartbeatWait,
		EventRateLimit:    cfg.WSEventRateLimit,
		EventRateWindow:   cfg.WSEventRateWindow,
	}
	admCfg := realtime.AdmissionConfig{
		MaxAttempts:   cfg.AdmissionMaxAttempts,
		AttemptWindow: cfg.AdmissionAttemptWindow,
		BlockDuration: cfg.AdmissionBlockDuration,
	}

	ws := realtime.NewGateway(log, gwCfg, admCfg, sessionVerifier{svc: sessionSvc}, chatStore, metrics)

	var devToken http.HandlerFunc
	if cfg.DevInsecure && memSessions != nil {
		memChat, _ := chatStore.(*realtime.InMemoryChatStore)
		devToken = newDevTokenHandler(log, sessionSvc, memSessions, memChat)
		log.Warn("dev_token.enabled", "path", "/dev/token")
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		ws:        ws,
		promReg:   promReg,
		devToken:  devToken,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.promReg, a.devToken)

	// No ReadTimeout/WriteTimeout: both would kill long-lived websocket
	// connections. Slow-client protection lives in the gateway instead.
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	// Attempt-record GC shares the server's lifetime.
	go a.ws.Admission().Run(ctx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// sessionVerifier adapts the session service to the gateway's verification
// contract.
type sessionVerifier struct {
	svc *session.Service
}

func (v sessionVerifier) VerifyAccess(ctx context.Context, token string, now time.Time) (realtime.Identity, error) {
	claims, err := v.svc.ValidateAccessToken(ctx, token, now)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: claims.UserID, SessionID: claims.SessionID}, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newChatStore decides between Postgres-backed persistence and the in-memory dev store.
func newChatStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, realtime.ChatStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, realtime.NewInMemoryChatStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresChatStore.Close() is a no-op
	chatStore, err := realtime.NewPostgresChatStore(pool) // default schema "tether"
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, chatStore: chatStore}, pool, true, chatStore, nil
}

type dbStore struct {
	pool      *pgxpool.Pool
	chatStore realtime.ChatStore
}

func (s dbStore) Close(_ context.Context) error {
	// PostgresChatStore.Close() is a no-op by design (pool is owned here).
	if s.chatStore != nil {
		_ = s.chatStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
