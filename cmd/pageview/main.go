// Command pageview renders a window of pages from a document to PNG files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/config"
	"github.com/gogpu/pageview/docstate"
	_ "github.com/gogpu/pageview/engine/pdfium"
)

func main() {
	var (
		configPath = flag.String("config", config.Path(), "config file")
		page       = flag.Int("page", 1, "page to center the window on")
		before     = flag.Int("before", -1, "pages before the center (-1: from config)")
		after      = flag.Int("after", -1, "pages after the center (-1: from config)")
		zoom       = flag.Float64("zoom", 0, "viewport zoom (0: from config)")
		dpr        = flag.Float64("dpr", 0, "device pixel ratio (0: from config)")
		delegate   = flag.String("delegate", "", "off, inprocess or subprocess (empty: from config)")
		outDir     = flag.String("out", ".", "output directory")
		outline    = flag.Bool("outline", false, "print the outline")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall timeout")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pageview [flags] document")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	pageview.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *before >= 0 {
		cfg.PagesBefore = *before
	}
	if *after >= 0 {
		cfg.PagesAfter = *after
	}
	if *zoom > 0 {
		cfg.Zoom = *zoom
	}
	if *dpr > 0 {
		cfg.DevicePixelRatio = *dpr
	}
	if *delegate != "" {
		cfg.Delegate = config.DelegateMode(*delegate)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read document: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, data, cfg, *page, *outDir, *outline); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, data []byte, cfg config.Config, page int, outDir string, printOutline bool) error {
	v, err := pageview.Open(ctx, data, pageview.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer v.Close()

	if printOutline {
		entries, err := v.Outline(ctx)
		if err != nil {
			return fmt.Errorf("outline: %w", err)
		}
		for _, e := range entries {
			fmt.Printf("%*s%s (p. %d)\n", 2*e.Level, "", e.Title, e.PageNumber)
		}
	}

	if err := v.RestoreView(ctx, page); err != nil {
		log.Printf("Page %d: %v", page, err)
	}
	if err := v.WaitIdle(ctx); err != nil {
		return fmt.Errorf("rendering: %w", err)
	}

	for _, rec := range v.Pages() {
		switch rec.Status {
		case docstate.StatusRendered:
			bm, ok := v.GetBitmap(rec.PageNumber)
			if !ok {
				continue
			}
			path := filepath.Join(outDir, fmt.Sprintf("page-%04d.png", rec.PageNumber))
			if err := bm.SavePNG(path); err != nil {
				return fmt.Errorf("saving page %d: %w", rec.PageNumber, err)
			}
			log.Printf("Page %d saved to %s (%dx%d)", rec.PageNumber, path, bm.Width(), bm.Height())
		case docstate.StatusError:
			log.Printf("Page %d failed: %s", rec.PageNumber, rec.ErrorMessage)
		}
	}

	s := v.Stats()
	log.Printf("%d pages, %d cached (%d bytes), %d evictions, delegated=%v fell back=%v",
		v.PageCount(), s.Cache.Len, s.Cache.Bytes, s.Cache.Evictions, s.Delegated, s.FellBack)
	return nil
}
