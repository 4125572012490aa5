// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/ragflow"
	"github.com/poiesic/ragflow/config"
	"github.com/urfave/cli/v2"
)

// newEngine is replaced in tests to inject a mock model provider.
var newEngine = func(cfg *config.Config) (*ragflow.Engine, error) {
	return ragflow.NewEngine(cfg)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragflow",
		Usage: "Retrieval-augmented answers with compliance review",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides server.addr",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and store text documents",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Collection the documents belong to",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute the vectors of stored chunks with the configured embedder",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts for each embedding call",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "only-missing",
						Usage: "Only embed chunks that have no vector yet",
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Continue after the last checkpoint of an interrupted run",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer one question and print the released stream",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "User the session belongs to",
						Value: "cli",
					},
					&cli.StringFlag{
						Name:  "session",
						Usage: "Continue an existing session",
					},
					&cli.StringFlag{
						Name:  "domain",
						Usage: "Domain hint for routing",
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "Role of the asking user",
						Value: "patient",
					},
				},
			},
			{
				Name:  "tickets",
				Usage: "Manage the escalation review queue",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List tickets",
						Action: listTicketsCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "status",
								Usage: "Only list tickets in this status (open, resolved, abandoned)",
							},
						},
					},
					{
						Name:      "resolve",
						Usage:     "Close a ticket as handled",
						ArgsUsage: "TICKET",
						Action:    resolveTicketCommand,
						Flags:     []cli.Flag{noteFlag},
					},
					{
						Name:      "abandon",
						Usage:     "Close a ticket without handling it",
						ArgsUsage: "TICKET",
						Action:    abandonTicketCommand,
						Flags:     []cli.Flag{noteFlag},
					},
				},
			},
			{
				Name:      "ledger",
				Usage:     "Show the spend of a session",
				ArgsUsage: "SESSION",
				Action:    ledgerCommand,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration",
				Action: configCommand,
			},
		},
	}
}

var noteFlag = &cli.StringFlag{
	Name:  "note",
	Usage: "Reviewer note stored on the ticket",
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func openEngine(c *cli.Context) (*ragflow.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return engine, nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
