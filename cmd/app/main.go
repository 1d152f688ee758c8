package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/vaultlog/internal"
	"github.com/starford/vaultlog/internal/apperr"
	pkgconfig "github.com/starford/vaultlog/pkg/config"
)

// loadConfig reads the config file (defaults when absent), applies CLI
// overrides, and validates the result once.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.DecodeIfExists(cmd.String("config"), cfg); err != nil {
		return nil, apperr.Configuration("%v", err)
	}

	if cmd.IsSet("vault-path") {
		cfg.VaultPath = cmd.String("vault-path")
	}
	if cmd.IsSet("output") {
		cfg.OutputFile = cmd.String("output")
	}
	if cmd.IsSet("log-level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, apperr.Configuration("log level: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Run(ctx, internal.WithConfig(cfg))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Serve(ctx, internal.WithConfig(cfg))
}

func backlinks(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	if target == "" {
		return apperr.Configuration("backlinks: target note name is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Backlinks(ctx, target, internal.WithConfig(cfg))
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			DefaultText: "config.yaml",
			Value:       "config.yaml",
			Sources:     cli.EnvVars("APP_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "vault-path",
			Usage:   "Override vault path from config",
			Sources: cli.EnvVars("VAULT_PATH"),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Override output file from config",
			Sources: cli.EnvVars("OUTPUT_FILE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Override log level (DEBUG, INFO, WARN, ERROR)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "vaultlog",
		Usage: "Turn a Markdown vault into an append-only activity log and Prometheus gauges",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Process notes changed since the last run, then exit",
				Flags:  commonFlags(),
				Action: run,
			},
			{
				Name:   "serve",
				Usage:  "Run on a schedule and on vault changes, optionally serving metrics",
				Flags:  commonFlags(),
				Action: serve,
			},
			{
				Name:      "backlinks",
				Usage:     "List notes that reference a target note (requires index_path)",
				ArgsUsage: "<target>",
				Flags:     commonFlags(),
				Action:    backlinks,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, apperr.ErrConfiguration):
		return 2
	default:
		return 1
	}
}
