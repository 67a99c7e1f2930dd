package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8085")
	if err != nil || p != "8085" {
		t.Fatalf("expected fallback 8085, got %q (%v)", p, err)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_SECONDS", "7")

	if got := Int("TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := Int("TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("expected fallback 1, got %d", got)
	}
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	if Bool("TEST_UNSET_BOOL", false) {
		t.Fatal("expected fallback false")
	}
	if got := Seconds("TEST_SECONDS", time.Second); got != 7*time.Second {
		t.Fatalf("expected 7s, got %s", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "value")
	if got, err := RequiredString("TEST_REQUIRED"); err != nil || got != "value" {
		t.Fatalf("expected value, got %q (%v)", got, err)
	}
	t.Setenv("TEST_REQUIRED", "")
	if _, err := RequiredString("TEST_REQUIRED"); err == nil {
		t.Fatal("expected error for empty variable")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SLOTLEDGER_DOTENV_A=from-file\nSLOTLEDGER_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SLOTLEDGER_DOTENV_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("SLOTLEDGER_DOTENV_A") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("SLOTLEDGER_DOTENV_A"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("SLOTLEDGER_DOTENV_B"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}
}
