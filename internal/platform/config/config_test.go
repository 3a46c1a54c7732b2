package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HANDOFF_SHAREDSECRET", "h")
	t.Setenv("PROTOCOL_COOKIESECRET", "c")
	t.Setenv("STAFF_JWTSECRET", "j")
	t.Setenv("PRESENCE_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Handoff.SharedSecret != "h" || cfg.Protocol.CookieSecret != "c" || cfg.Staff.JWTSecret != "j" {
		t.Fatalf("secrets not loaded from env: %+v", cfg)
	}
	if cfg.Presence.Timeout != 30*time.Second {
		t.Fatalf("expected presence timeout override, got %v", cfg.Presence.Timeout)
	}
	if cfg.Protocol.SessionTTL != 12*time.Hour || cfg.Protocol.CodeTTL != 10*time.Minute || cfg.Handoff.Mode != HandoffLocal {
		t.Fatalf("unexpected defaults: %+v", cfg.Protocol)
	}
	if Cfg != cfg {
		t.Fatal("expected global config to be set")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `
handoff:
  mode: remote
  sharedSecret: s
  cisBaseURL: http://cis.internal
protocol:
  cookieSecret: c
staff:
  jwtSecret: j
  accounts:
    - username: chair
      passwordHash: "$2a$10$x"
`
	if err := os.WriteFile(filepath.Join(dir, "config", "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Handoff.Mode != HandoffRemote || cfg.Handoff.CISBaseURL != "http://cis.internal" {
		t.Fatalf("unexpected handoff config %+v", cfg.Handoff)
	}
	if len(cfg.Staff.Accounts) != 1 || cfg.Staff.Accounts[0].Username != "chair" {
		t.Fatalf("unexpected staff accounts %+v", cfg.Staff.Accounts)
	}
}

func TestValidate(t *testing.T) {
	ok := Config{
		Handoff:  HandoffConfig{Mode: HandoffLocal, SharedSecret: "h"},
		Protocol: ProtocolConfig{CookieSecret: "c"},
		Staff:    StaffConfig{JWTSecret: "j"},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	broken := []func(*Config){
		func(c *Config) { c.Handoff.SharedSecret = "" },
		func(c *Config) { c.Protocol.CookieSecret = "" },
		func(c *Config) { c.Staff.JWTSecret = "" },
		func(c *Config) { c.Handoff.Mode = "carrier-pigeon" },
	}
	for i, mutate := range broken {
		c := ok
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

// chdir 切换工作目录并在测试结束时恢复（等价于 Go 1.24 的 t.Chdir）
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
