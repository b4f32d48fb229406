package cli

import (
	"context"

	"github.com/compozy/tplwriter/pkg/config"
	"github.com/compozy/tplwriter/pkg/extension"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/compozy/tplwriter/pkg/writer"
	"github.com/romdo/go-debounce"
	"github.com/spf13/afero"
)

// watch builds once and then again after every change to the configuration,
// the inputs, the views or any file the writer options reference.
func watch(ctx context.Context, manager *config.Manager, fs afero.Fs) error {
	log := logger.FromContext(ctx)
	rebuild := make(chan struct{}, 1)
	trigger := func() {
		select {
		case rebuild <- struct{}{}:
		default:
		}
	}
	manager.OnChange(func(*config.Config) { trigger() })
	manager.Watch(ctx)
	for {
		cfg := manager.Get()
		if _, err := Build(ctx, cfg, fs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("build failed", "error", err)
		}
		debounced, cancel := debounce.New(cfg.Input.Debounce, trigger)
		watcher, err := watchPaths(ctx, cfg, debounced)
		if err != nil {
			cancel()
			return err
		}
		log.Info("watching for changes", "input", cfg.Input.Dir)
		select {
		case <-ctx.Done():
			cancel()
			_ = watcher.Close()
			return nil
		case <-rebuild:
			cancel()
			if err := watcher.Close(); err != nil {
				log.Warn("failed to close watcher", "error", err)
			}
			log.Info("change detected, rebuilding")
		}
	}
}

// watchPaths watches the input directory and every path named by the writer
// options. Missing paths are skipped.
func watchPaths(ctx context.Context, cfg *config.Config, onChange func()) (*config.Watcher, error) {
	log := logger.FromContext(ctx)
	watcher, err := config.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Ignore(stringOption(cfg.Writer["outDir"], writer.DefaultOutDir)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	watcher.OnChange(onChange)
	for _, path := range referencedPaths(cfg) {
		if err := watcher.Watch(ctx, path); err != nil {
			log.Debug("path not watched", "path", path, "error", err)
		}
	}
	return watcher, nil
}

// referencedPaths lists the input directory, the views directories, the
// globals file and any module files named in the writer options.
func referencedPaths(cfg *config.Config) []string {
	paths := []string{cfg.Input.Dir}
	switch dirs := cfg.Writer["viewsDir"].(type) {
	case string:
		paths = append(paths, dirs)
	case []string:
		paths = append(paths, dirs...)
	case []any:
		for _, dir := range dirs {
			if s, ok := dir.(string); ok {
				paths = append(paths, s)
			}
		}
	default:
		paths = append(paths, writer.DefaultViewsDir)
	}
	if globals, ok := cfg.Writer["globals"].(string); ok && globals != "" {
		paths = append(paths, globals)
	}
	for _, key := range []string{"functions", "filters", "advanced"} {
		if module := moduleName(cfg.Writer[key]); extension.IsFilePath(module) {
			paths = append(paths, module)
		}
	}
	return paths
}

func moduleName(value any) string {
	ref, ok, err := extension.ParseReference("", value)
	if err != nil || !ok {
		return ""
	}
	return ref.Module
}

func stringOption(value any, fallback string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return fallback
}
