package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firi/hlasm-langserver/internal/logger"
)

// BuildRootCommand returns the cobra root command for the server binary.
// run is invoked once flags and any config file are resolved into a
// Config; cmd/hlasmls's main.go does nothing but call Execute on the
// result.
func BuildRootCommand(run func(Config) error) *cobra.Command {
	cfg := Default()
	var logLevel int
	var configFile string

	root := &cobra.Command{
		Use:   "hlasmls [port]",
		Short: "HLASM language/debug front-end transport core",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				loaded, err := LoadFile(configFile, cfg)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("lsp-port") {
					loaded.LSPPort = cfg.LSPPort
				}
				if cmd.Flags().Changed("vscode-extensions") {
					loaded.VSCodeExtensions = cfg.VSCodeExtensions
				}
				if cmd.Flags().Changed("metrics-addr") {
					loaded.MetricsAddr = cfg.MetricsAddr
				}
				cfg = loaded
			}

			if cmd.Flags().Changed("log-level") {
				level, err := parseLogLevel(logLevel)
				if err != nil {
					return err
				}
				cfg.LogLevel = level
			}

			if len(args) == 1 && !cmd.Flags().Changed("lsp-port") {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				cfg.LSPPort = port
			}

			return run(cfg)
		},
	}

	root.Flags().IntVar(&logLevel, "log-level", int(logger.LevelInfo), "log verbosity: 0=error, 1=info, 2=debug")
	root.Flags().IntVar(&cfg.LSPPort, "lsp-port", 0, "TCP port to listen for the LSP connection on (0 = stdio)")
	root.Flags().BoolVar(&cfg.VSCodeExtensions, "vscode-extensions", false, "enable the hlasm/dap_tunnel DAP-over-LSP methods")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "optional address to expose Prometheus metrics on")
	root.Flags().StringVar(&configFile, "config", "", "optional YAML config file; flags given explicitly take precedence over its values")

	return root
}

func parseLogLevel(n int) (logger.LogLevel, error) {
	switch n {
	case 0:
		return logger.LevelError, nil
	case 1:
		return logger.LevelInfo, nil
	case 2:
		return logger.LevelDebug, nil
	default:
		return logger.LevelInfo, fmt.Errorf("invalid --log-level %d: must be 0, 1, or 2", n)
	}
}

func parsePort(arg string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(arg, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", arg, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: out of range", arg)
	}
	return port, nil
}
