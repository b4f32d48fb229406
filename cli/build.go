package cli

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/compozy/tplwriter/pkg/config"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/compozy/tplwriter/pkg/normalizer"
	"github.com/compozy/tplwriter/pkg/reader"
	"github.com/compozy/tplwriter/pkg/writer"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Summary describes a finished build.
type Summary struct {
	Documents int
	Written   int
	OutDir    string
	Duration  time.Duration
}

// Build renders every input document selected by cfg. Documents are
// rendered concurrently; the first failure cancels the rest.
func Build(ctx context.Context, cfg *config.Config, fs afero.Fs) (*Summary, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	opts, err := normalizer.Normalize(ctx, cfg.Writer, normalizer.WithFS(fs))
	if err != nil {
		return nil, err
	}
	w, err := writer.New(ctx, *opts)
	if err != nil {
		return nil, err
	}
	if err := w.Environment().Compile(); err != nil {
		return nil, err
	}
	r, err := reader.New(fs, cfg.Input.Dir, cfg.Input.Pattern)
	if err != nil {
		return nil, err
	}
	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Input.Concurrency)
	for _, file := range files {
		g.Go(func() error {
			doc, err := r.Read(gctx, file)
			if err != nil {
				return err
			}
			if err := w.Write(gctx, doc); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			written.Add(1)
			return nil
		})
	}
	err = g.Wait()
	summary := &Summary{
		Documents: len(files),
		Written:   int(written.Load()),
		OutDir:    w.OutDir(),
		Duration:  time.Since(start),
	}
	if err != nil {
		return summary, err
	}
	log.Info("build finished",
		"documents", summary.Documents,
		"written", summary.Written,
		"out_dir", summary.OutDir,
		"duration", summary.Duration.Round(time.Millisecond),
	)
	return summary, nil
}
