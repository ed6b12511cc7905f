package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.toml")
	content := `
ListenAddress = ":9090"
DatabaseURL = "postgres://file/db"
JWTSecret = "file-secret"
FeeBps = 175
AutoReleaseAfter = "72h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LISTEN_ADDRESS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("expected env override for DatabaseURL, got %q", cfg.DatabaseURL)
	}
	if cfg.ListenAddress != ":9090" {
		t.Errorf("expected listen address from file, got %q", cfg.ListenAddress)
	}
	if cfg.FeeBps != 175 {
		t.Errorf("expected FeeBps 175, got %d", cfg.FeeBps)
	}
	if cfg.ReleaseWindow() != 72*time.Hour {
		t.Errorf("expected 72h release window, got %s", cfg.ReleaseWindow())
	}
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LISTEN_ADDRESS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: unexpected error: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Errorf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.FeeBps != 250 {
		t.Errorf("expected default fee 250 bps, got %d", cfg.FeeBps)
	}
	if cfg.ReleaseWindow() != 7*24*time.Hour {
		t.Errorf("expected default 7d release window, got %s", cfg.ReleaseWindow())
	}
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(""); err == nil {
		t.Error("expected error when DatabaseURL missing")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("DatabaseURL = \"postgres://x\"\nFeeBps = 10001\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for FeeBps out of range")
	}
}
