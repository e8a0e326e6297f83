package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const wsSubprotocolV1 = "tether.realtime.v1"

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Identity is the verified principal behind a connection attempt.
type Identity struct {
	UserID    string
	SessionID string
}

// SessionVerifier validates the credential presented at connection time
// against a currently valid, non-expired persisted session record.
type SessionVerifier interface {
	VerifyAccess(ctx context.Context, token string, now time.Time) (Identity, error)
}

// GatewayConfig tunes the websocket gateway. Zero values fall back to the
// package defaults.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables TLS verification in websocket.Accept.
	// Dev-only knob; it is not an origin policy.
	DevInsecure bool

	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Per-connection inbound event budget.
	EventRateLimit  int
	EventRateWindow time.Duration
}

// DefaultGatewayConfig returns the secure defaults used when the environment
// does not override them.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    wsDefaultOriginRequired,
		AllowedOrigins:    splitCSV(wsDefaultAllowedOrigins),
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		EventRateLimit:    eventRateLimit,
		EventRateWindow:   eventRateWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultGatewayConfig()
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = def.AllowedOrigins
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.EventRateLimit <= 0 {
		c.EventRateLimit = def.EventRateLimit
	}
	if c.EventRateWindow <= 0 {
		c.EventRateWindow = def.EventRateWindow
	}
	return c
}

// Gateway is the websocket entrypoint for Tether realtime.
//
// It enforces origin policy, admission control, heartbeats, and per-event
// rate limits, and routes decoded events into the router, relay, receipt,
// and presence components for the connection's lifetime.
type Gateway struct {
	log       *slog.Logger
	cfg       GatewayConfig
	verifier  SessionVerifier
	store     ChatStore
	registry  *Registry
	hub       *Hub
	admission *AdmissionController
	presence  *PresenceBroadcaster
	metrics   *Metrics

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin
	// it requires OriginPatterns.
	originPatterns []string
}

// NewGateway constructs a gateway with secure defaults, owning the session
// registry, channel hub, and admission controller it wires together.
func NewGateway(log *slog.Logger, cfg GatewayConfig, adm AdmissionConfig, verifier SessionVerifier, store ChatStore, metrics *Metrics) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if store == nil {
		store = NewInMemoryChatStore()
	}

	cfg = cfg.withDefaults()
	registry := NewRegistry(log)

	g := &Gateway{
		log:       log,
		cfg:       cfg,
		verifier:  verifier,
		store:     store,
		registry:  registry,
		hub:       NewHub(log),
		admission: NewAdmissionController(log, adm),
		presence:  NewPresenceBroadcaster(log, store, registry, metrics),
		metrics:   metrics,
	}

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns (host patterns). Derive them from
	// the allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatterns(cfg.AllowedOrigins)

	return g
}

// Admission exposes the controller so the app can run its GC loop.
func (g *Gateway) Admission() *AdmissionController { return g.admission }

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS gates a connection attempt through origin policy, credential
// verification, and the admission controller, then upgrades and runs the
// realtime loop. Refused attempts are rejected before the upgrade so a
// half-open connection is never left behind.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()

	token := credentialFromRequest(r)
	if token == "" {
		g.metrics.AdmissionRejected(RejectNoCredential)
		g.log.Info("ws.reject.no_credential", "remote", r.RemoteAddr)
		http.Error(w, "credential required", http.StatusUnauthorized)
		return
	}

	ident, err := g.verifier.VerifyAccess(r.Context(), token, now)
	if err != nil {
		// Identity failures never touch the attempt table: an
		// unauthenticated peer must not burn a victim's reconnect budget.
		g.metrics.AdmissionRejected(RejectInvalidCredential)
		g.log.Info("ws.reject.invalid_credential", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	if d := g.admission.Check(ident.UserID, now); d != Admit {
		g.metrics.AdmissionRejected(d)
		g.log.Info("ws.reject.rate_limited", "user_id", ident.UserID, "remote", r.RemoteAddr)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	// Username resolution is best-effort: a missing display record leaves
	// typing indicators without a username, nothing more.
	username := ""
	if info, err := g.store.UserDisplayInfo(r.Context(), ident.UserID); err == nil {
		username = info.Username
	}

	client := NewClient(ident.UserID, username, NewConnectionID(), g.cfg.SendQueueSize)
	sess := newConnSession(g, client)
	sess.run(r.Context(), conn)
}

// ---- envelope IO ----

// NewOutboundEnvelope wraps a payload into a v1 envelope with a fresh id.
func NewOutboundEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- credential extraction ----

// credentialFromRequest reads the access token from the Authorization header
// (Bearer scheme) or the "token" query parameter, in that order.
func credentialFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Keep this strict: only hosts extracted from
	// the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
