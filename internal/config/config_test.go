package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	data := `
listen: ":8080"
upstream:
  stt_url: http://stt:9000/transcribe
  tts_url: http://tts:9001/synthesize
  dispatcher_url: http://orchestrator:9002/v1/chat/completions
flags:
  url: http://flags:9003/flags
  refresh_sec: 120
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Upstream.STTURL != "http://stt:9000/transcribe" {
		t.Errorf("stt url = %q", cfg.Upstream.STTURL)
	}
	if cfg.Flags.RefreshSec != 120 {
		t.Errorf("refresh_sec = %d", cfg.Flags.RefreshSec)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	if err := os.WriteFile(path, []byte("listen: \":8080\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("STT_URL", "http://localhost:7000/transcribe")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("env did not override listen: %q", cfg.Listen)
	}
	if cfg.Upstream.STTURL != "http://localhost:7000/transcribe" {
		t.Errorf("stt url = %q", cfg.Upstream.STTURL)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil {
		t.Fatalf("nil config")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadBadYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [:::"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
