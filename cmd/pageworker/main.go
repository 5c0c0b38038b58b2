// Command pageworker is the isolated rendering process started by
// pageview's subprocess delegate mode. It owns the document and speaks the
// framed worker protocol on standard input and output; diagnostics go to
// standard error.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/gogpu/pageview/engine/pdfium"
	"github.com/gogpu/pageview/worker"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("PAGEWORKER_DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := worker.NewStreamWorker(os.Stdin, os.Stdout)
	if err := worker.Serve(ctx, conn, worker.WithServeLogger(log)); err != nil {
		log.Error("pageworker: exiting", "error", err)
		os.Exit(1)
	}
}
