package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"transcript-rag/internal/app"
)

func cleanCommand() *cli.Command {
	var (
		opts      options
		limit     int64
		workers   int64
		batchSize int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of chunks to clean (0 = all)",
			Destination: &limit,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "Concurrent cleaning requests (default from config)",
			Sources:     cli.EnvVars("PIPELINE_WORKERS"),
			Destination: &workers,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Chunks fetched per page (default from config)",
			Destination: &batchSize,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "clean",
		Usage: "Clean raw transcript chunks with the language model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			if batchSize <= 0 {
				batchSize = int64(a.Config.Pipeline.CleanBatchSize)
			}
			report, err := a.Cleaner.Run(ctx, app.CleanOptions{
				Limit:     int(limit),
				Workers:   int(workers),
				BatchSize: int(batchSize),
			})
			if report != nil {
				fmt.Fprintf(c.Root().Writer, "run %s: processed=%d cleaned=%d failed=%d skipped=%d\n",
					report.RunID, report.Processed, report.Cleaned, report.Failed, report.Skipped)
			}
			if err != nil {
				return goerr.Wrap(err, "cleaning stopped")
			}
			return nil
		},
	}
}

func loadCommand() *cli.Command {
	var (
		opts      options
		limit     int64
		batchSize int64
		backfill  bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of chunks to load (0 = all)",
			Destination: &limit,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Chunks embedded per request (default from config)",
			Destination: &batchSize,
		},
		&cli.BoolFlag{
			Name:        "backfill",
			Usage:       "Run the metadata backfill after loading",
			Destination: &backfill,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "load",
		Usage: "Embed cleaned chunks into the vector store",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			report, err := a.Loader.Load(ctx, app.LoadOptions{Limit: int(limit), BatchSize: int(batchSize)})
			if report != nil {
				fmt.Fprintf(c.Root().Writer, "scanned=%d loaded=%d skipped=%d duplicates=%d\n",
					report.Scanned, report.Loaded, report.Skipped, report.Duplicates)
			}
			if report != nil && report.Loaded > 0 {
				a.InvalidateCache(ctx)
			}
			if err != nil {
				return goerr.Wrap(err, "loading stopped")
			}

			if backfill {
				return runBackfill(ctx, c, a.Loader.Backfill, func() { a.InvalidateCache(ctx) })
			}
			return nil
		},
	}
}

func backfillCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "backfill",
		Usage: "Add missing show_name, hosts and published_at to embedding rows",
		Flags: globalFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			return runBackfill(ctx, c, a.Loader.Backfill, func() { a.InvalidateCache(ctx) })
		},
	}
}

func runBackfill(ctx context.Context, c *cli.Command, backfill func(context.Context) (*app.BackfillReport, error), onUpdate func()) error {
	report, err := backfill(ctx)
	if report != nil {
		fmt.Fprintf(c.Root().Writer, "scanned=%d updated=%d unmatched=%d ambiguous=%d\n",
			report.Scanned, report.Updated, report.Unmatched, report.Ambiguous)
		if report.Updated > 0 {
			onUpdate()
		}
	}
	if err != nil {
		return goerr.Wrap(err, "backfill stopped")
	}
	return nil
}
