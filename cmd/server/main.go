package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"transcript-rag/internal/bootstrap"
	"transcript-rag/internal/logging"
	httptransport "transcript-rag/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx)
	if err != nil {
		logging.Default().Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	ctx = logging.With(ctx, logging.Default())

	serveErr := httptransport.Serve(ctx, app)
	if err := app.Close(); err != nil {
		logging.From(ctx).Warn("close resources failed", "error", err)
	}
	if serveErr != nil {
		logging.From(ctx).Error("server exited", "error", serveErr)
		os.Exit(1)
	}
}
