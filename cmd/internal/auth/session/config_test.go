package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_RequiresKey(t *testing.T) {
	t.Setenv("TETHER_PASETO_V4_SECRET_KEY_HEX", "")

	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("err: got %v, want ErrConfig", err)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()
	t.Setenv("TETHER_PASETO_V4_SECRET_KEY_HEX", key)
	t.Setenv("TETHER_AUTH_ISSUER", "tether-test")
	t.Setenv("TETHER_AUTH_ACCESS_TTL", "5m")
	t.Setenv("TETHER_AUTH_CLOCK_SKEW", "10s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "tether-test" || cfg.AccessTokenTTL != 5*time.Minute || cfg.ClockSkew != 10*time.Second {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.PasetoV4SecretKeyHex != key {
		t.Fatalf("key not loaded")
	}
}

func TestLoadConfigFromEnv_RejectsBadDuration(t *testing.T) {
	t.Setenv("TETHER_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("TETHER_AUTH_ACCESS_TTL", "soon")

	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("err: got %v, want ErrConfig", err)
	}
}

func TestNewEphemeralConfig_ProducesWorkingKey(t *testing.T) {
	t.Parallel()

	cfg := NewEphemeralConfig()
	if _, err := NewPasetoV4PublicManager(cfg); err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
}
