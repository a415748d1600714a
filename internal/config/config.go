// Package config implements the CLI surface and optional config file
// described in spec.md §6 (C12): a positional LSP TCP port, log level,
// `--lsp-port`, and `--vscode-extensions`, plus an optional
// `.hlasmls.yaml` file live-reloaded for log-level changes.
//
// Grounded on jinterlante1206-AleutianLocal's cmd/aleutian/main.go
// (cobra root command + yaml.v3 config struct) and
// yunhoi129-moai-adk's internal/config/loader.go (defaults-then-overlay
// loading), replacing the teacher's hand-rolled flag parsing per
// SPEC_FULL.md's ambient-stack note.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/firi/hlasm-langserver/internal/logger"
)

// Config is the fully resolved set of options the CLI, an optional YAML
// file, and their defaults contribute to, in that ascending priority
// order (flags win).
type Config struct {
	// LSPPort is the TCP port to listen for the LSP connection on; 0
	// means "use stdio" (spec.md §6's stream-acquisition non-goal: this
	// package only carries the value, it does not open the listener).
	LSPPort int `yaml:"lsp_port"`

	// LogLevel mirrors --log-level=<0..2>.
	LogLevel logger.LogLevel `yaml:"log_level"`

	// VSCodeExtensions enables the hlasm/dap_tunnel methods (spec.md §6).
	VSCodeExtensions bool `yaml:"vscode_extensions"`

	// MetricsAddr, if non-empty, is the address C13's debug HTTP endpoint
	// listens on (e.g. "127.0.0.1:9090"). Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// ConfigFile is the path the config was loaded from, or "" if none
	// was found/specified. Kept on the struct so the watcher can re-read
	// the same file it started from.
	ConfigFile string `yaml:"-"`
}

// Default returns the zero-configuration defaults: stdio transport, info
// level logging, tunnel disabled, metrics disabled.
func Default() Config {
	return Config{
		LSPPort:          0,
		LogLevel:         logger.LevelInfo,
		VSCodeExtensions: false,
		MetricsAddr:      "",
	}
}

// LoadFile overlays path's YAML contents onto base. A missing file is not
// an error -- the config file is always optional.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	base.ConfigFile = path
	return base, nil
}
