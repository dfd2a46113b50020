// Command aurora-node runs one routing node: the tenant-facing ingress API,
// the peer-facing federation API, the periodic federation sync loop, and the
// fleet scenario controller, all on a single listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Mindburn-Labs/aurora/pkg/config"
)

const version = "0.4.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "aurora-node: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("aurora-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", os.Getenv("AURORA_CONFIG"), "YAML config file with named profiles")
		profile     = fs.String("profile", config.DefaultProfile, "profile to load from the config file")
		showVersion = fs.Bool("version", false, "print version and exit")
		paths       nodePaths
	)
	fs.StringVar(&paths.fleet, "fleet", os.Getenv("AURORA_FLEET_FILE"), "fleet YAML: provider inventory plus an optional scenario")
	fs.StringVar(&paths.dispatch, "dispatch", os.Getenv("AURORA_DISPATCH_CONFIG"), "provider bridge YAML mapping provider ids to dispatch endpoints")
	fs.StringVar(&paths.rules, "rules", os.Getenv("AURORA_ANOMALY_RULES"), "anomaly rule YAML evaluated by the auditor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "aurora-node %s\n", version)
		return nil
	}

	cfg, err := config.LoadProfile(*configPath, *profile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := buildNode(ctx, cfg, paths, logger)
	if err != nil {
		return err
	}
	defer n.Close(context.Background())

	return n.serve(ctx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
