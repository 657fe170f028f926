package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"transcript-rag/internal/app"
	"transcript-rag/internal/model"
)

func askCommand() *cli.Command {
	var (
		opts   options
		topK   int64
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Number of passages to retrieve (default from config)",
			Destination: &topK,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full result as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question from the transcripts",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}

			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			result, err := askWithSpinner(ctx, a.Agent, app.AskInput{Question: question, TopK: int(topK)})
			if err != nil {
				return goerr.Wrap(err, "failed to answer question")
			}
			return printResult(c.Root().Writer, result, asJSON)
		},
	}
}

func chatCommand() *cli.Command {
	var (
		opts options
		topK int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Number of passages to retrieve (default from config)",
			Destination: &topK,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start prompt")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Ask about the transcripts. Type 'exit' to quit.\n")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				question := strings.TrimSpace(line)
				if question == "exit" || question == "quit" {
					break
				}
				if question == "" {
					continue
				}

				result, err := askWithSpinner(ctx, a.Agent, app.AskInput{Question: question, TopK: int(topK)})
				if err != nil {
					// one failed question does not end the session
					fmt.Fprintf(w, "error: %v\n", err)
					continue
				}
				if err := printResult(w, result, false); err != nil {
					return err
				}
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

type asker interface {
	Ask(ctx context.Context, input app.AskInput) (*model.QueryResult, error)
}

func askWithSpinner(ctx context.Context, agent asker, input app.AskInput) (*model.QueryResult, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " searching transcripts"
	s.Start()
	defer s.Stop()
	return agent.Ask(ctx, input)
}

func printResult(w io.Writer, result *model.QueryResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return goerr.Wrap(err, "failed to encode result")
		}
		return nil
	}
	fmt.Fprintln(w, app.RenderMarkdown(result))
	return nil
}
