package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/app"
	"github.com/JakeFAU/webcam-harvester/internal/config"
)

func addScrapeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("source", "s", "", "name of the webcam source")
	cmd.Flags().StringP("identifiers", "i", "", "half-open identifier range START:END")
	configFlag(cmd, "scrape.source", "source")
	configFlag(cmd, "scrape.identifiers", "identifiers")
}

func newScrapeMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape-metadata",
		Short: "Scrapes and caches metadata for a range of webcams",
		Long: `Resolves metadata for every identifier in the range. Webcams already in the
cache are not scraped again; new results are persisted when the command ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runScrapeMetadata(ctx, cmd, a)
			})
		},
	}
	addScrapeFlags(cmd)
	return cmd
}

func runScrapeMetadata(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	source, ids, err := scrapeTargets(a)
	if err != nil {
		return err
	}
	records, err := a.Resolve(ctx, source, ids)
	if err != nil {
		return err
	}
	live := 0
	for _, m := range records {
		if m.IsLive {
			live++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resolved %d webcams from %s, %d live\n", len(records), source, live)
	return nil
}

func newScrapeFramesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape-frames",
		Short: "Fetches frames from every live webcam in a range",
		Long: `Resolves metadata for the range, then fetches the current frame of every
live webcam once per period for the configured duration with a fixed
pool of workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runScrapeFrames(ctx, cmd, a)
			})
		},
	}
	addScrapeFlags(cmd)
	cmd.Flags().DurationP("period", "f", 0, "period between frames of one webcam")
	cmd.Flags().DurationP("duration", "d", 0, "total time to harvest for")
	cmd.Flags().IntP("workers", "t", 0, "number of frame workers")
	configFlag(cmd, "scrape.period", "period")
	configFlag(cmd, "scrape.duration", "duration")
	configFlag(cmd, "scrape.workers", "workers")
	return cmd
}

func runScrapeFrames(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	source, ids, err := scrapeTargets(a)
	if err != nil {
		return err
	}
	records, err := a.Resolve(ctx, source, ids)
	if err != nil {
		return err
	}
	cams := a.Webcams(records)

	cfg := a.Config()
	if cfg.Metrics.Enabled {
		serveCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.StatusServer().ListenAndServe(serveCtx, cfg.Metrics.Addr); err != nil {
				a.Logger().Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	start := time.Now()
	result, err := a.RunSession(ctx, source, cams)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"harvested %d of %d frame attempts over %d cycles in %s\n",
		result.Succeeded, result.Attempts, result.Cycles, time.Since(start).Round(time.Second))
	if errors.Is(ctx.Err(), context.Canceled) {
		a.Logger().Info("harvest interrupted")
	}
	return nil
}

func scrapeTargets(a *app.App) (string, []string, error) {
	cfg := a.Config()
	r, err := config.ParseRange(cfg.Scrape.Identifiers)
	if err != nil {
		return "", nil, fmt.Errorf("identifiers: %w", err)
	}
	if err := a.InstallScraper(cfg.Scrape.Source); err != nil {
		return "", nil, err
	}
	a.Logger().Info("resolving webcams",
		zap.String("source", cfg.Scrape.Source),
		zap.Stringer("identifiers", r))
	return cfg.Scrape.Source, r.Identifiers(), nil
}
