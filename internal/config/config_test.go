package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/firi/hlasm-langserver/internal/logger"
)

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	assertEqual(t, cfg.LogLevel, logger.LevelInfo)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".hlasmls.yaml")
	if err := os.WriteFile(path, []byte("log_level: 2\nvscode_extensions: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	assertEqual(t, cfg.LogLevel, logger.LevelDebug)
	assertEqual(t, cfg.VSCodeExtensions, true)
	assertEqual(t, cfg.ConfigFile, path)
}

func TestRootCommandParsesPositionalPort(t *testing.T) {
	var got Config
	root := BuildRootCommand(func(cfg Config) error {
		got = cfg
		return nil
	})
	root.SetArgs([]string{"8080", "--log-level=2"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertEqual(t, got.LSPPort, 8080)
	assertEqual(t, got.LogLevel, logger.LevelDebug)
}

func TestRootCommandLSPPortFlagWinsOverPositional(t *testing.T) {
	var got Config
	root := BuildRootCommand(func(cfg Config) error {
		got = cfg
		return nil
	})
	root.SetArgs([]string{"8080", "--lsp-port=9090"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertEqual(t, got.LSPPort, 9090)
}

func TestRootCommandRejectsInvalidLogLevel(t *testing.T) {
	root := BuildRootCommand(func(cfg Config) error { return nil })
	root.SetArgs([]string{"--log-level=7"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an out-of-range log level")
	}
}

func TestWatcherReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".hlasmls.yaml")
	if err := os.WriteFile(path, []byte("log_level: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	levels := make(chan logger.LogLevel, 4)
	w, err := NewWatcher(path, Config{LogLevel: logger.LevelInfo}, func(l logger.LogLevel) {
		levels <- l
	}, &logger.NullLogger{})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("log_level: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case level := <-levels:
		assertEqual(t, level, logger.LevelDebug)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
