package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GIN_MODE", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Port)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("unexpected driver: %s", cfg.DatabaseDriver)
	}
	if !cfg.CSRFProtection {
		t.Fatal("CSRF protection should be enabled by default")
	}
	if cfg.SessionMaxAge() != 12*time.Hour {
		t.Fatalf("unexpected max age: %s", cfg.SessionMaxAge())
	}
	if cfg.SessionIdleTimeout() != 30*time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.SessionIdleTimeout())
	}
	if cfg.LoginMaxAttempts != 5 || cfg.LoginWindowMinutes != 15 || cfg.LoginLockMinutes != 10 {
		t.Fatalf("unexpected login limits: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://localhost/blogme")
	t.Setenv("CSRF_PROTECTION", "false")
	t.Setenv("BCRYPT_COST", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9000" || cfg.DatabaseDriver != "pgx" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CSRFProtection {
		t.Fatal("CSRF_PROTECTION=false should disable protection")
	}
	if cfg.BcryptCost != 10 {
		t.Fatalf("invalid BCRYPT_COST should fall back to default, got %d", cfg.BcryptCost)
	}
}

func TestValidateReleaseRequiresSecret(t *testing.T) {
	cfg := &Config{
		GinMode:          "release",
		DatabaseDriver:   "sqlite",
		DatabaseURL:      "file::memory:",
		LoginMaxAttempts: 5,
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Fatalf("expected SESSION_SECRET error, got %v", err)
	}

	cfg.SessionSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short secret")
	}

	cfg.SessionSecret = strings.Repeat("s", minSessionSecretLength)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownDriverAndBadKey(t *testing.T) {
	cfg := &Config{DatabaseDriver: "mysql", DatabaseURL: "x", LoginMaxAttempts: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	cfg.DatabaseDriver = "sqlite"
	cfg.SessionEncryptionKey = "too-short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for encryption key length")
	}
}

func TestAllowedOriginsAndLogLevel(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: "http://a.test, ,http://b.test", LogLevel: "DEBUG"}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "http://a.test" || origins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %#v", origins)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("unexpected level: %v", cfg.SlogLevel())
	}
}
