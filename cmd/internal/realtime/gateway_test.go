package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	v1 "tether/shared/contracts/realtime/v1"
)

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     GatewayConfig
		origin  string
		wantErr bool
	}{
		{
			name:    "missing origin refused when required",
			cfg:     GatewayConfig{OriginRequired: true, AllowedOrigins: []string{"http://localhost"}},
			origin:  "",
			wantErr: true,
		},
		{
			name:   "missing origin allowed when optional",
			cfg:    GatewayConfig{OriginRequired: false, AllowedOrigins: []string{"http://localhost"}},
			origin: "",
		},
		{
			name:   "exact origin match",
			cfg:    GatewayConfig{AllowedOrigins: []string{"https://app.tether.chat"}},
			origin: "https://app.tether.chat",
		},
		{
			name:   "host match ignores port",
			cfg:    GatewayConfig{AllowedOrigins: []string{"http://localhost"}},
			origin: "http://localhost:5173",
		},
		{
			name:    "disallowed origin",
			cfg:     GatewayConfig{AllowedOrigins: []string{"https://app.tether.chat"}},
			origin:  "https://evil.example.com",
			wantErr: true,
		},
		{
			name:   "explicit wildcard",
			cfg:    GatewayConfig{AllowedOrigins: []string{"*"}},
			origin: "https://anything.example.com",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := NewGateway(testLogger(), tc.cfg, AdmissionConfig{}, nil, NewInMemoryChatStore(), nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			err := g.enforceOrigin(r)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer tok-123", want: "tok-123"},
		{name: "case-insensitive scheme", header: "bearer tok-123", want: "tok-123"},
		{name: "query fallback", query: "tok-456", want: "tok-456"},
		{name: "header wins over query", header: "Bearer tok-123", query: "tok-456", want: "tok-123"},
		{name: "non-bearer header falls back", header: "Basic abc", query: "tok-456", want: "tok-456"},
		{name: "nothing", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			url := "/ws"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			if got := credentialFromRequest(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEventLimiter(t *testing.T) {
	t.Parallel()

	l := newEventLimiter(3, time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.allow(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i+1)
		}
	}
	if l.allow(base.Add(300 * time.Millisecond)) {
		t.Fatalf("fourth event inside the window should be denied")
	}

	// After the window slides past the earlier events, capacity returns.
	if !l.allow(base.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window should be allowed")
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{
		"http://localhost",
		"http://localhost:5173",
		"https://app.tether.chat",
		"*",
		"",
	})
	want := []string{"app.tether.chat", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNewOutboundEnvelope(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(v1.ErrorPayload{Code: "x", Message: "y"})

	env := NewOutboundEnvelope(v1.TypeError, payload, ts)
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if env.V != v1.Version || env.ID == "" || !env.TS.Equal(ts) {
		t.Fatalf("envelope fields: %+v", env)
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want readErrKind
	}{
		{name: "context canceled", err: context.Canceled, want: readErrCtxDone},
		{name: "deadline", err: context.DeadlineExceeded, want: readErrCtxDone},
		{name: "eof", err: io.EOF, want: readErrConnClosed},
	}

	for _, tc := range cases {
		if got := classifyReadErr(tc.err); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
