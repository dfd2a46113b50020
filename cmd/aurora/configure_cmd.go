package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/aurora/pkg/config"
)

// runConfigureCmd resolves configuration the same way the daemon does and
// prints the result, so operators can see what a node would boot with
// before starting it.
func runConfigureCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", os.Getenv("AURORA_CONFIG"), "profile file")
	profile := fs.String("profile", config.DefaultProfile, "profile to resolve")
	list := fs.Bool("list", false, "list the profiles the file defines")
	asJSON := fs.Bool("json", false, "print the resolved config as JSON")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *list {
		if *configPath == "" {
			fmt.Fprintln(stderr, "configure --list requires --config or AURORA_CONFIG")
			return exitUsage
		}
		names, err := config.ProfileNames(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "%sError:%s %v\n", ColorRed, ColorReset, err)
			return exitUsage
		}
		for _, n := range names {
			fmt.Fprintln(stdout, n)
		}
		return exitOK
	}

	cfg, err := config.LoadProfile(*configPath, *profile)
	if err != nil {
		fmt.Fprintf(stderr, "%sError:%s %v\n", ColorRed, ColorReset, err)
		return exitUsage
	}

	secret := ""
	if cfg.JWTSecret != "" {
		secret = "(set)"
	}

	if *asJSON {
		view := map[string]any{
			"listen_addr":       cfg.ListenAddr,
			"log_level":         cfg.LogLevel,
			"store_driver":      cfg.StoreDriver,
			"store_path":        cfg.StorePath,
			"snapshot_dir":      cfg.SnapshotDir,
			"policy_module":     cfg.PolicyModule,
			"federation_config": cfg.FederationConfig,
			"signal_url":        cfg.SignalURL,
			"signal_timeout":    cfg.SignalTimeout.String(),
			"cache_ttl":         cfg.CacheTTL.String(),
			"epsilon":           cfg.Epsilon,
			"alpha":             cfg.Alpha,
			"gamma":             cfg.Gamma,
			"audit_mode":        cfg.AuditMode,
			"redis_addr":        cfg.RedisAddr,
			"jwt_required":      cfg.JWTRequired,
			"jwt_secret":        secret,
		}
		if err := printJSON(stdout, view); err != nil {
			return fail(stderr, err)
		}
		return exitOK
	}

	fmt.Fprintf(stdout, "%sprofile %s%s\n", ColorBold, *profile, ColorReset)
	printSetting(stdout, "listen_addr", cfg.ListenAddr)
	printSetting(stdout, "log_level", cfg.LogLevel)
	printSetting(stdout, "store_driver", cfg.StoreDriver)
	printSetting(stdout, "store_path", cfg.StorePath)
	printSetting(stdout, "snapshot_dir", cfg.SnapshotDir)
	printSetting(stdout, "policy_module", cfg.PolicyModule)
	printSetting(stdout, "federation_config", cfg.FederationConfig)
	printSetting(stdout, "signal_url", cfg.SignalURL)
	printSetting(stdout, "signal_timeout", cfg.SignalTimeout.String())
	printSetting(stdout, "cache_ttl", cfg.CacheTTL.String())
	printSetting(stdout, "epsilon", fmt.Sprintf("%g", cfg.Epsilon))
	printSetting(stdout, "alpha", fmt.Sprintf("%g", cfg.Alpha))
	printSetting(stdout, "gamma", fmt.Sprintf("%g", cfg.Gamma))
	printSetting(stdout, "audit_mode", cfg.AuditMode)
	printSetting(stdout, "redis_addr", cfg.RedisAddr)
	printSetting(stdout, "jwt_required", fmt.Sprintf("%t", cfg.JWTRequired))
	printSetting(stdout, "jwt_secret", secret)
	return exitOK
}

func printSetting(w io.Writer, name, value string) {
	if value == "" {
		value = ColorGray + "(unset)" + ColorReset
	}
	fmt.Fprintf(w, "  %s%-18s%s %s\n", ColorCyan, name, ColorReset, value)
}
