package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CLAWPAY_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Chain.Mode != "sim" {
		t.Errorf("defaults = port %d mode %s", cfg.Server.Port, cfg.Chain.Mode)
	}
	if cfg.Discovery.Cooldown() != 24*time.Hour {
		t.Errorf("Cooldown() = %v, want 24h", cfg.Discovery.Cooldown())
	}
	if cfg.Discovery.Interval != 30*time.Minute {
		t.Errorf("Interval = %v, want 30m", cfg.Discovery.Interval)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawpay.toml")
	content := `
[server]
port = 9090

[auth]
admin_keys = ["from-file"]
window = "30s"

[discovery]
cooldown_hours = 12
max_rewards_per_cycle = 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLAWPAY_MAX_REWARDS_PER_CYCLE", "7")
	t.Setenv("CLAWPAY_ADMIN_KEYS", "a, b ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from file", cfg.Server.Port)
	}
	if cfg.Auth.Window != 30*time.Second {
		t.Errorf("Window = %v, want 30s", cfg.Auth.Window)
	}
	if cfg.Discovery.CooldownHours != 12 {
		t.Errorf("CooldownHours = %d, want 12", cfg.Discovery.CooldownHours)
	}
	if cfg.Discovery.MaxRewards != 7 {
		t.Errorf("MaxRewards = %d, want env override 7", cfg.Discovery.MaxRewards)
	}
	if len(cfg.Auth.AdminKeys) != 2 || cfg.Auth.AdminKeys[1] != "b" {
		t.Errorf("AdminKeys = %v, want [a b]", cfg.Auth.AdminKeys)
	}
}

func TestLoad_RelayerNeedsURL(t *testing.T) {
	t.Setenv("CLAWPAY_CONFIG", "")
	t.Setenv("CLAWPAY_CHAIN_MODE", "relayer")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() error = nil, want missing relayer_url")
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[server\nport="), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}
