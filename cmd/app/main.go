// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/server"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd := &cli.Command{
		Name:    "votelinks",
		Usage:   "Issue and redeem one-time voting links",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server (default)",
				Action: server.Run,
			},
			{
				Name:   "sweep",
				Usage:  "Expire overdue links and purge old ones once",
				Action: server.Sweep,
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Commands: []*cli.Command{
					{Name: "up", Usage: "Apply pending migrations", Action: server.MigrateUp},
					{Name: "down", Usage: "Roll back the last migration", Action: server.MigrateDown},
					{Name: "reset", Usage: "Roll back all migrations", Action: server.MigrateReset},
					{Name: "status", Usage: "Show the schema version", Action: server.MigrateStatus},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
