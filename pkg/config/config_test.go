package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "EXECUTION_MODE", "PAPER_DB_PATH", "LIVE_DB_PATH", "JWT_SECRET", "LOG_LEVEL", "INITIAL_BALANCE"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Mode)
	}
	if cfg.InitialBalance != 10000.0 {
		t.Errorf("InitialBalance = %v, want 10000", cfg.InitialBalance)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "LIVE")
	t.Setenv("INITIAL_BALANCE", "2500.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "live" {
		t.Errorf("Mode = %q, want live (lowercased)", cfg.Mode)
	}
	if cfg.InitialBalance != 2500.5 {
		t.Errorf("InitialBalance = %v, want 2500.5", cfg.InitialBalance)
	}
}
