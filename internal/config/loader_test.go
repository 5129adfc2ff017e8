package config

import (
	"os"
	"testing"
)

func TestParseAppliesDefaultsOverMinimalYAML(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Parse([]byte(`server:
  port: 9090
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected overridden port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Ingress.Workers <= 0 {
		t.Fatalf("expected default ingress.workers to survive a partial override, got %d", cfg.Ingress.Workers)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("ROUTER_TEST_DSN", "postgres://example/test")
	l := NewLoader()
	cfg, err := l.Parse([]byte(`store:
  backend: postgres
  postgres:
    dsn: "${ROUTER_TEST_DSN}"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Postgres.DSN != "postgres://example/test" {
		t.Fatalf("expected env var expansion, got %q", cfg.Store.Postgres.DSN)
	}
}

func TestParseLeavesUnsetEnvVarsUntouched(t *testing.T) {
	os.Unsetenv("ROUTER_TEST_UNSET_VAR")
	l := NewLoader()
	cfg, err := l.Parse([]byte(`store:
  backend: postgres
  postgres:
    dsn: "${ROUTER_TEST_UNSET_VAR}"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Postgres.DSN != "${ROUTER_TEST_UNSET_VAR}" {
		t.Fatalf("expected unset env var to be left untouched, got %q", cfg.Store.Postgres.DSN)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte(`server:
  port: 8080
  not_a_real_field: true
`))
	if err == nil {
		t.Fatal("expected strict unmarshal to reject an unknown field")
	}
}

func TestParseRejectsInvalidPort(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte(`server:
  port: 70000
`))
	if err == nil {
		t.Fatal("expected validation to reject an out-of-range port")
	}
}

func TestParseRejectsSharedRateLimitWithoutRedisAddr(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte(`rate_limit:
  store: shared
`))
	if err == nil {
		t.Fatal("expected validation to require a redis addr for the shared rate-limit store")
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	l := NewLoader()
	if _, err := l.Load("/nonexistent/path/router.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
