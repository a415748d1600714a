// Command hlasmls is the thin entry point for the HLASM language/debug
// front-end transport core: it resolves a Config via internal/config's
// cobra root command, then hands off to internal/wiring for everything
// the teacher's flat main.go used to do directly.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/firi/hlasm-langserver/internal/config"
	"github.com/firi/hlasm-langserver/internal/logger"
	"github.com/firi/hlasm-langserver/internal/metrics"
	"github.com/firi/hlasm-langserver/internal/rpc"
	"github.com/firi/hlasm-langserver/internal/wiring"
)

func main() {
	exitCode := 0
	root := config.BuildRootCommand(func(cfg config.Config) error {
		code, err := run(cfg)
		exitCode = code
		return err
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// run performs spec.md §4.10's full sequence and returns the process exit
// code the main read loop settled on.
func run(cfg config.Config) (int, error) {
	log := logger.NewLogger(os.Stderr, cfg.LogLevel)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				log.Error("metrics: endpoint on %s stopped: %v", cfg.MetricsAddr, err)
			}
		}()
	}

	if cfg.ConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.ConfigFile, cfg, log.SetLevel, log)
		if err != nil {
			log.Error("config: watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	stream, err := wiring.AcquireStream(cfg.LSPPort)
	if err != nil {
		return 1, err
	}
	defer stream.Closer.Close()

	// Mirrors the teacher's setupSignalHandlers: on SIGTERM/SIGINT, close
	// the acquired stream so the blocked channel read unblocks with an IO
	// error and the normal shutdown sequence in wiring.Assembly.Shutdown
	// runs. Generalized onto x/sys/unix's signal constants per
	// SPEC_FULL.md's domain-stack note, in place of the teacher's raw
	// syscall.SIGTERM/SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("received signal %v, shutting down", sig)
		stream.Closer.Close()
	}()

	ch := rpc.NewChannel(stream.Reader, stream.Writer, log)
	assembly := wiring.Build(cfg, ch, log)

	stop := make(chan struct{})
	defer close(stop)
	go sampleMetricsUntilStopped(stop, assembly)

	return assembly.Run(), nil
}

func sampleMetricsUntilStopped(stop <-chan struct{}, a *wiring.Assembly) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.SampleMetrics()
		}
	}
}
