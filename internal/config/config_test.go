package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if cfg.Port != 8080 || cfg.PingPeriod != 54*time.Second || !cfg.HostMigration {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.JoinRateLimit != 5 || cfg.JoinRateInterval != 10*time.Second {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	body := "port: 9090\nhost_migration: false\nping_period: 20s\nbackpressure: drop\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if cfg.Port != 9090 || cfg.HostMigration || cfg.PingPeriod != 20*time.Second || cfg.Backpressure != "drop" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadFileRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.bad.yaml")
	if err := os.WriteFile(path, []byte("backpressure: shout\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown backpressure policy")
	}
}

func TestLoadPeerDefaults(t *testing.T) {
	cfg, err := LoadPeer()
	if err != nil {
		t.Fatalf("LoadPeer returned error: %v", err)
	}
	if cfg.ParticipantID == "" {
		t.Fatal("expected generated participant id")
	}
	if cfg.JoinTimeout != 10*time.Second || cfg.MaxPlayers != 2 || cfg.Action != "create" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ice servers = %v", cfg.ICEServers)
	}
}

func TestLoadPeerJoinNeedsRoom(t *testing.T) {
	t.Setenv("TABLETOP_ACTION", "join")
	if _, err := LoadPeer(); err == nil {
		t.Fatal("expected error without room id")
	}
	t.Setenv("TABLETOP_ROOM_ID", "r1")
	cfg, err := LoadPeer()
	if err != nil {
		t.Fatalf("LoadPeer returned error: %v", err)
	}
	if cfg.RoomID != "r1" {
		t.Fatalf("room id = %q", cfg.RoomID)
	}
}

func TestLoadPeerParseError(t *testing.T) {
	t.Setenv("TABLETOP_MAX_PLAYERS", "many")
	_, err := LoadPeer()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("err = %v, want parse env error", err)
	}
}

func TestLoadPeerGameSettings(t *testing.T) {
	cfg, err := LoadPeer()
	if err != nil {
		t.Fatalf("LoadPeer returned error: %v", err)
	}
	if s := cfg.GameSettings(); s.AllowUndo || s.TurnTimeLimit != 30*time.Second {
		t.Fatalf("default settings = %+v", s)
	}

	t.Setenv("TABLETOP_ALLOW_UNDO", "true")
	t.Setenv("TABLETOP_TURN_TIME_LIMIT", "0s")
	cfg, err = LoadPeer()
	if err != nil {
		t.Fatalf("LoadPeer returned error: %v", err)
	}
	if s := cfg.GameSettings(); !s.AllowUndo || s.TurnTimeLimit != 0 {
		t.Fatalf("settings = %+v, want undo on and no turn limit", s)
	}
}
