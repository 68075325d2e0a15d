package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := setupLogger("debug", "json"); err != nil {
		t.Fatalf("setupLogger(debug, json) failed: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.StandardLogger().Formatter)
	}

	if err := setupLogger("", ""); err != nil {
		t.Fatalf("defaults must be accepted: %v", err)
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level by default, got %s", log.GetLevel())
	}

	if err := setupLogger("loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := setupLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "payflow version=") {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestServeCommand_InvalidConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected config read error, got %v", err)
	}
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payflow.yaml")
	content := "grpc_addr: 127.0.0.1:0\nhttp_addr: 127.0.0.1:0\nrenewal_enabled: false\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	defer log.SetLevel(log.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("serve must stop cleanly on cancel, got %v", err)
	}
}
