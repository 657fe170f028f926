package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"transcript-rag/internal/bootstrap"
	"transcript-rag/internal/config"
	"transcript-rag/internal/logging"
)

// options are flags shared by every command.
type options struct {
	configPath string
	envFile    string
	logLevel   string
}

func globalFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML config file",
			Value:       "configs/config.toml",
			Sources:     cli.EnvVars("CONFIG_FILE"),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Path to a .env file seeding the environment",
			Value:       ".env",
			Sources:     cli.EnvVars("ENV_FILE"),
			Destination: &opts.envFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &opts.logLevel,
		},
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	if err := os.Setenv("CONFIG_FILE", o.configPath); err != nil {
		return nil, goerr.Wrap(err, "set CONFIG_FILE failed")
	}
	if err := os.Setenv("ENV_FILE", o.envFile); err != nil {
		return nil, goerr.Wrap(err, "set ENV_FILE failed")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.App.LogLevel = o.logLevel
	}
	return cfg, nil
}

// newApp loads config and connects everything. The returned context carries
// the configured logger.
func (o *options) newApp(ctx context.Context) (context.Context, *bootstrap.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return ctx, nil, err
	}
	a, err := bootstrap.NewWithConfig(ctx, cfg)
	if err != nil {
		return ctx, nil, goerr.Wrap(err, "failed to initialize")
	}
	return logging.With(ctx, logging.Default()), a, nil
}

func closeApp(ctx context.Context, a *bootstrap.App) {
	if err := a.Close(); err != nil {
		logging.From(ctx).Warn("close resources failed", "error", err)
	}
}
