package main

import (
	"context"
	"os"

	"github.com/netforge-io/changerd/cmd/change"
	"github.com/netforge-io/changerd/cmd/probe"
	"github.com/netforge-io/changerd/cmd/server"
	"github.com/netforge-io/changerd/internal/log"
	_ "github.com/netforge-io/changerd/pkg/enterprise"
	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "changerd",
		Version:     version,
		Usage:       "Router change-control and rollback engine",
		Description: "Compile hardening profiles into reversible command plans, apply them to routers, and roll them back",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"CHANGERD_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"CHANGERD_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logLevel := cmd.GetString("log-level")
			logFormat := cmd.GetString("log-format")
			log.Configure(logLevel, logFormat)
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			{
				Name:        "change",
				Usage:       "Change management commands",
				Description: "Apply hardening profiles, inspect the change log, and roll changes back",
				Commands:    change.Commands(),
			},
			{
				Name:        "probe",
				Usage:       "Probing commands",
				Description: "Failover tests and reachability checks",
				Commands:    probe.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
