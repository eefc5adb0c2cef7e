package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	SetDefaults(cfg)

	if cfg.Recognition.MatchThreshold != 0.5 {
		t.Errorf("match threshold = %v, want 0.5", cfg.Recognition.MatchThreshold)
	}
	if cfg.Recognition.RequiredConsecutive != 3 {
		t.Errorf("required consecutive = %d, want 3", cfg.Recognition.RequiredConsecutive)
	}
	if cfg.Recognition.StaleAfter != 5*time.Second {
		t.Errorf("stale after = %v, want 5s", cfg.Recognition.StaleAfter)
	}
	if cfg.Recognition.LateCutoff != "09:15:00" {
		t.Errorf("late cutoff = %q, want 09:15:00", cfg.Recognition.LateCutoff)
	}
	if cfg.Liveness.BlinkThreshold != 0.18 {
		t.Errorf("blink threshold = %v, want 0.18", cfg.Liveness.BlinkThreshold)
	}
	if cfg.Liveness.RequiredBlinks != 2 {
		t.Errorf("required blinks = %d, want 2", cfg.Liveness.RequiredBlinks)
	}
	if cfg.Liveness.TurnDeltaPx != 20 {
		t.Errorf("turn delta = %d, want 20", cfg.Liveness.TurnDeltaPx)
	}
	if cfg.Liveness.MinStableFrames != 20 {
		t.Errorf("min stable frames = %d, want 20", cfg.Liveness.MinStableFrames)
	}
	if len(cfg.Camera.Devices) != 4 || cfg.Camera.Devices[0] != "/dev/video0" {
		t.Errorf("camera devices = %v, want /dev/video0..3", cfg.Camera.Devices)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
recognition:
  match_threshold: 0.45
  required_consecutive: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FACEROLL_LATE_CUTOFF", "10:00:00")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Recognition.MatchThreshold != 0.45 {
		t.Errorf("match threshold = %v, want 0.45", cfg.Recognition.MatchThreshold)
	}
	if cfg.Recognition.RequiredConsecutive != 5 {
		t.Errorf("required consecutive = %d, want 5", cfg.Recognition.RequiredConsecutive)
	}
	if cfg.Recognition.LateCutoff != "10:00:00" {
		t.Errorf("late cutoff = %q, want env override 10:00:00", cfg.Recognition.LateCutoff)
	}
	// untouched fields still get defaults
	if cfg.Recognition.StaleAfter != 5*time.Second {
		t.Errorf("stale after = %v, want default 5s", cfg.Recognition.StaleAfter)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "faceroll", User: "app", Password: "secret"}
	want := "postgres://app:secret@db:5432/faceroll?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
