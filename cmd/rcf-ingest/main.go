// Command rcf-ingest is the reference daemon wrapping internal/rcf/forest:
// it loads a construction configuration, builds a Forest, and accepts
// points over two paths — a batch inbox directory polled with fsnotify,
// and a streaming QUIC listener — per SPEC_FULL.md section 6. Grounded
// in the teacher's CLI conventions: flag-based configuration,
// structured logging via rcflog, and fsnotify-driven config hot reload.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/config"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/forest"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcflog"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcfstate"
)

// scanConfigPathArg extracts a "-config"/"--config" value from args by
// hand, before any flag.FlagSet exists to parse it properly: cfg's own
// flags can only be registered once the file they default from is
// known, so this runs first.
func scanConfigPathArg(args []string, def string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > len("-config=") && a[:len("-config=")] == "-config=":
			return a[len("-config="):]
		case len(a) > len("--config=") && a[:len("--config=")] == "--config=":
			return a[len("--config="):]
		}
	}

	return def
}

func main() {
	var (
		configPath string
		inboxDir   string
		quicAddr   string
		statePath  string
		verbose    bool
		debug      bool
	)

	// configPath must be known before cfg's own flags are registered
	// (it picks which file cfg's defaults come from), so it is scanned
	// out of os.Args by hand first rather than through flag.Parse.
	configPath = scanConfigPathArg(os.Args[1:], "rcf.json")

	cfg := config.Default()

	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.FromFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rcf-ingest: loading %s: %v\n", configPath, err)
			os.Exit(1)
		}

		cfg = loaded
	}

	flag.StringVar(&configPath, "config", configPath, "construction configuration file")
	flag.StringVar(&inboxDir, "inbox", "", "batch ingestion inbox directory (disabled if empty)")
	flag.StringVar(&quicAddr, "quic-addr", "", "QUIC streaming listener address (disabled if empty)")
	flag.StringVar(&statePath, "state", "", "persisted forest state file (disabled if empty; loaded at startup if present)")
	flag.BoolVar(&verbose, "verbose", false, "enable info-level logging")
	flag.BoolVar(&debug, "debug", false, "enable debug-level logging")

	config.RegisterFlags(flag.CommandLine, &cfg)

	flag.Parse()

	logger := rcflog.New(os.Stderr, verbose, debug)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rcf-ingest: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Precision != config.Float64 {
		fmt.Fprintf(os.Stderr, "rcf-ingest: this binary only supports precision=%q (got %q)\n", config.Float64, cfg.Precision)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var f *forest.Forest[float64]

	var err error

	if statePath != "" {
		if _, statErr := os.Stat(statePath); statErr == nil {
			f, err = rcfstate.Load[float64](statePath, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rcf-ingest: loading state %s: %v\n", statePath, err)
				os.Exit(1)
			}

			logger.Info("rcf-ingest: restored forest state from %s", statePath)
		}
	}

	if f == nil {
		f, err = forest.New[float64](forest.FromConfig(cfg), logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rcf-ingest: building forest: %v\n", err)
			os.Exit(1)
		}
	}

	if err := config.Watch(ctx, configPath, f, logger); err != nil {
		logger.Warn("rcf-ingest: config hot reload disabled: %v", err)
	}

	var seqCounter uint64

	if inboxDir != "" {
		ingest := func(point []float64, seq uint64) error {
			f.Update(point, seq)

			return nil
		}

		if err := watchInbox(ctx, inboxDir, &seqCounter, ingest, logger); err != nil {
			logger.Warn("rcf-ingest: inbox ingestion disabled: %v", err)
		} else {
			logger.Info("rcf-ingest: watching inbox %s", inboxDir)
		}
	}

	if quicAddr != "" {
		if err := serveQUIC(ctx, quicAddr, f, &seqCounter, logger); err != nil {
			logger.Warn("rcf-ingest: quic listener disabled: %v", err)
		} else {
			logger.Info("rcf-ingest: quic listener on %s", quicAddr)
		}
	}

	<-ctx.Done()

	if statePath != "" {
		if err := rcfstate.Save[float64](statePath, f, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "rcf-ingest: saving state %s: %v\n", statePath, err)
			os.Exit(1)
		}

		logger.Info("rcf-ingest: saved forest state to %s", statePath)
	}
}
