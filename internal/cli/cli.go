package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "transcript-rag",
		Usage: "Clean, embed and query video transcripts",
		Commands: []*cli.Command{
			cleanCommand(),
			loadCommand(),
			backfillCommand(),
			askCommand(),
			chatCommand(),
			failuresCommand(),
			metadataCommand(),
			tokenCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
