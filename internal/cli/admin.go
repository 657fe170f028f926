package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"transcript-rag/internal/pkg/jwtutil"
	httptransport "transcript-rag/internal/transport/http"
)

func failuresCommand() *cli.Command {
	var (
		opts  options
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of failures to list",
			Value:       50,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "failures",
		Usage: "List chunks whose cleaning was rejected",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			failures, err := a.Failures.List(ctx, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list failures")
			}

			w := c.Root().Writer
			if len(failures) == 0 {
				fmt.Fprintln(w, "No cleaning failures.")
				return nil
			}
			for _, f := range failures {
				fmt.Fprintf(w, "%s  %s@%.2f  %s\n",
					f.UpdatedAt.Format("2006-01-02 15:04"), f.VideoID, f.StartTime, f.Reason)
			}
			return nil
		},
	}
}

func metadataCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "metadata",
		Usage: "Show the show names and frequent hosts in the vector store",
		Flags: globalFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			catalog, err := a.Metadata.Catalog(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load metadata")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Shows (%d):\n", len(catalog.Shows))
			for _, s := range catalog.Shows {
				fmt.Fprintf(w, "  %s\n", s)
			}
			fmt.Fprintf(w, "Hosts in at least %d videos (%d):\n", a.Config.Query.MinHostVideos, len(catalog.Hosts))
			fmt.Fprintf(w, "  %s\n", strings.Join(catalog.Hosts, ", "))
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	var (
		opts   options
		client string
		ttl    time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "client",
			Usage:       "Name of the API client the token is issued to",
			Required:    true,
			Destination: &client,
		},
		&cli.DurationFlag{
			Name:        "ttl",
			Usage:       "Token lifetime (default from auth.jwt_expire_minute)",
			Destination: &ttl,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
			}

			token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, ttl, client)
			if err != nil {
				return goerr.Wrap(err, "failed to issue token")
			}
			fmt.Fprintln(c.Root().Writer, token)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: globalFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			return httptransport.Serve(ctx, a)
		},
	}
}
