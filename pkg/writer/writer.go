// Package writer renders documents through template views and writes one
// output file per document.
package writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/compozy/tplwriter/pkg/filewriter"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/compozy/tplwriter/pkg/markdown"
	"github.com/compozy/tplwriter/pkg/tplengine"
)

// MarkdownFilter is the name of the built-in markdown filter.
const MarkdownFilter = "markdown"

// Writer renders and writes documents. It is safe for concurrent use.
type Writer struct {
	env   *tplengine.Environment
	view  View
	files *filewriter.Writer
}

// New sets up the template environment from opts: markdown filter, globals,
// functions, filters, then the advanced hook. A user filter named markdown
// replaces the built-in one.
func New(ctx context.Context, opts Options) (*Writer, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	env := tplengine.NewEnvironment(opts.ViewsDir...).WithFS(opts.FS)

	if _, custom := opts.Filters[MarkdownFilter]; custom {
		log.Debug("markdown filter replaced by a user filter")
	} else if opts.MarkdownEnabled() {
		filter, err := markdownFilter(opts.MarkdownOptions)
		if err != nil {
			return nil, err
		}
		if err := env.AddFilter(MarkdownFilter, filter); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(opts.Globals) {
		if err := env.AddGlobal(name, opts.Globals[name]); err != nil {
			return nil, fmt.Errorf("failed to add global %q: %w", name, err)
		}
	}
	for _, name := range sortedKeys(opts.Functions) {
		if err := env.AddFunction(name, opts.Functions[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(opts.Filters) {
		if err := env.AddFilter(name, opts.Filters[name]); err != nil {
			return nil, err
		}
	}
	if err := opts.Advanced(env); err != nil {
		return nil, fmt.Errorf("advanced configuration failed: %w", err)
	}

	w := &Writer{env: env, view: opts.View}
	files, err := filewriter.New(filewriter.Options{
		OutDir:   opts.OutDir,
		OutFile:  opts.OutFile,
		Render:   w.render,
		FileMode: opts.FileMode,
	})
	if err != nil {
		return nil, err
	}
	w.files = files
	log.Debug("writer ready",
		"views", env.ViewsDirs(),
		"out_dir", files.OutDir(),
		"globals", len(env.Globals()),
		"functions", len(opts.Functions),
		"filters", len(opts.Filters),
		"markdown", opts.MarkdownEnabled(),
	)
	return w, nil
}

// Environment returns the template environment.
func (w *Writer) Environment() *tplengine.Environment {
	return w.env
}

// Write renders data and writes it to its output file.
func (w *Writer) Write(ctx context.Context, data Data) error {
	_, err := w.files.Write(ctx, data)
	return err
}

// OutDir returns the absolute output directory.
func (w *Writer) OutDir() string {
	return w.files.OutDir()
}

// Func returns Write as a plain function value.
func (w *Writer) Func() func(context.Context, Data) error {
	return w.Write
}

func (w *Writer) render(_ context.Context, data Data) (string, error) {
	name, err := w.view.Resolve(data)
	if err != nil {
		return "", err
	}
	return w.env.Render(name, data)
}

func markdownFilter(opts markdown.Options) (tplengine.FunctionEntry, error) {
	converter, err := markdown.NewConverter(opts)
	if err != nil {
		return tplengine.FunctionEntry{}, err
	}
	fn := func(args ...any) (any, error) {
		if len(args) == 0 || args[0] == nil {
			return "", nil
		}
		return converter.Convert(fmt.Sprint(args[0]))
	}
	return tplengine.WithOptions(fn, tplengine.CallableOptions{IsSafe: []string{"html"}}), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
