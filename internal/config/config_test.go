package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optional-config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OwnerID != 1 {
		t.Errorf("OwnerID = %d, want 1", cfg.OwnerID)
	}
	if cfg.LimitRequestsCheapPer10Seconds != 7 {
		t.Errorf("cheap limit = %d, want 7", cfg.LimitRequestsCheapPer10Seconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optional-config.json")
	content := `{"owner_id": 7, "limit_message_max": 2048}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OwnerID != 7 {
		t.Errorf("OwnerID = %d, want 7", cfg.OwnerID)
	}
	if cfg.LimitMessageMax != 2048 {
		t.Errorf("LimitMessageMax = %d, want 2048", cfg.LimitMessageMax)
	}
	// Unspecified fields keep their defaults.
	if cfg.LimitUserNameMax != 32 {
		t.Errorf("LimitUserNameMax = %d, want default 32", cfg.LimitUserNameMax)
	}
}

func TestLoadRejectsHardLimitBreach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optional-config.json")
	content := `{"limit_message_max": 999999}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a config exceeding a hard limit")
	}
}

func TestLoadRejectsInvertedBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optional-config.json")
	content := `{"limit_user_name_min": 10, "limit_user_name_max": 2}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted min > max")
	}
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optional-config.json")
	t.Setenv("HALYARD_OWNER_ID", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OwnerID != 42 {
		t.Errorf("OwnerID = %d, want env override 42", cfg.OwnerID)
	}
}

func TestIsOwner(t *testing.T) {
	cfg := Default()
	if !cfg.IsOwner(1) {
		t.Error("IsOwner(1) = false, want true")
	}
	if cfg.IsOwner(2) {
		t.Error("IsOwner(2) = true, want false")
	}
	cfg.OwnerID = 0
	if cfg.IsOwner(0) {
		t.Error("IsOwner(0) with disabled owner = true, want false")
	}
}
