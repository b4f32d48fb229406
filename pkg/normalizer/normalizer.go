// Package normalizer turns a loosely typed configuration bag, as read from
// command line flags or a configuration file, into writer options. Inline
// functions are compiled, module references are loaded and a globals file
// is read before any document is rendered.
package normalizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/compozy/tplwriter/pkg/extension"
	"github.com/compozy/tplwriter/pkg/filewriter"
	"github.com/compozy/tplwriter/pkg/lambda"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/compozy/tplwriter/pkg/markdown"
	"github.com/compozy/tplwriter/pkg/tplengine"
	"github.com/compozy/tplwriter/pkg/writer"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	FieldView            = "view"
	FieldViewsDir        = "viewsDir"
	FieldGlobals         = "globals"
	FieldFunctions       = "functions"
	FieldFilters         = "filters"
	FieldAdvanced        = "advanced"
	FieldMarkdown        = "markdown"
	FieldMarkdownOptions = "markdownOptions"
	// fieldMarkdownFilter is the older name of FieldMarkdown.
	fieldMarkdownFilter = "markdownFilter"
)

type settings struct {
	loader extension.Loader
	fs     afero.Fs
	cwd    string
}

// Option configures Normalize.
type Option func(*settings)

// WithLoader sets the module loader used for functions, filters and advanced.
func WithLoader(l extension.Loader) Option {
	return func(s *settings) { s.loader = l }
}

// WithFS sets the filesystem for the globals file, module files and views.
func WithFS(fs afero.Fs) Option {
	return func(s *settings) { s.fs = fs }
}

// WithCWD resolves relative paths against dir instead of the process working directory.
func WithCWD(dir string) Option {
	return func(s *settings) { s.cwd = dir }
}

// Normalize validates raw and resolves every reference in it. The returned
// options have defaults applied and need no further loading.
func Normalize(ctx context.Context, raw map[string]any, opts ...Option) (*writer.Options, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.loader == nil {
		s.loader = extension.NewLoader(s.fs, s.cwd)
	}
	n := &normalizer{settings: s, log: logger.FromContext(ctx)}
	out := &writer.Options{FS: s.fs}
	var files filewriter.Options

	for _, key := range fieldOrder(raw) {
		value := raw[key]
		var err error
		switch key {
		case FieldView:
			err = n.view(out, value)
		case FieldViewsDir:
			err = n.viewsDir(out, value)
		case FieldGlobals:
			err = n.globals(out, value)
		case FieldFunctions:
			out.Functions, err = n.functionMap(ctx, key, value)
		case FieldFilters:
			out.Filters, err = n.functionMap(ctx, key, value)
		case FieldAdvanced:
			err = n.advanced(ctx, out, value)
		case FieldMarkdown, fieldMarkdownFilter:
			err = n.markdown(out, key, value)
		case FieldMarkdownOptions:
			err = n.markdownOptions(out, value)
		default:
			var known bool
			known, err = filewriter.ApplyParam(&files, key, value)
			if err != nil {
				err = fieldError(key, err)
			} else if !known {
				n.log.Debug("ignoring unknown option", "option", key)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	out.OutDir = files.OutDir
	out.OutFile = files.OutFile
	out.FileMode = files.FileMode
	resolved := out.WithDefaults()
	resolved.OutDir = n.path(resolved.OutDir)
	dirs := make([]string, len(resolved.ViewsDir))
	for i, dir := range resolved.ViewsDir {
		dirs[i] = n.path(dir)
	}
	resolved.ViewsDir = dirs
	return &resolved, nil
}

// fieldOrder returns the keys of raw sorted, with the older markdown alias
// first so that markdown wins when both are set.
func fieldOrder(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		if key != fieldMarkdownFilter {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if _, ok := raw[fieldMarkdownFilter]; ok {
		keys = append([]string{fieldMarkdownFilter}, keys...)
	}
	return keys
}

// NewWriter normalizes raw and builds a writer from the result.
func NewWriter(ctx context.Context, raw map[string]any, opts ...Option) (*writer.Writer, error) {
	resolved, err := Normalize(ctx, raw, opts...)
	if err != nil {
		return nil, err
	}
	return writer.New(ctx, *resolved)
}

type normalizer struct {
	*settings
	log logger.Logger
}

// path resolves a relative path against the configured working directory.
func (n *normalizer) path(p string) string {
	if p == "" || n.cwd == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(n.cwd, p)
}

func (n *normalizer) view(out *writer.Options, value any) error {
	switch v := value.(type) {
	case nil:
	case string:
		if !lambda.IsFunctionLike(v) {
			out.View = writer.ViewName(v)
			return nil
		}
		fn, err := lambda.Parse(v)
		if err != nil {
			return fieldError(FieldView, err)
		}
		n.log.Debug("view function compiled", "params", fn.Params())
		out.View = writer.ViewFunc(fn.StringFunc())
	case writer.View:
		out.View = v
	case func(writer.Data) (string, error):
		out.View = writer.ViewFunc(v)
	default:
		return fieldErrorf(FieldView, "expected string or function, got %T", value)
	}
	return nil
}

func (n *normalizer) viewsDir(out *writer.Options, value any) error {
	switch v := value.(type) {
	case nil:
	case string:
		out.ViewsDir = []string{v}
	case []string:
		out.ViewsDir = append([]string(nil), v...)
	case []any:
		dirs := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fieldErrorf(FieldViewsDir, "expected string or list of strings, found %T in list", item)
			}
			dirs = append(dirs, s)
		}
		out.ViewsDir = dirs
	default:
		return fieldErrorf(FieldViewsDir, "expected string or list of strings, got %T", value)
	}
	return nil
}

func (n *normalizer) globals(out *writer.Options, value any) error {
	switch v := value.(type) {
	case nil:
	case map[string]any:
		out.Globals = v
	case string:
		globals, err := n.readGlobals(v)
		if err != nil {
			return fieldError(FieldGlobals, err)
		}
		out.Globals = globals
	default:
		return fieldErrorf(FieldGlobals, "expected object or file path, got %T", value)
	}
	return nil
}

func (n *normalizer) readGlobals(name string) (map[string]any, error) {
	path := n.path(name)
	exists, err := afero.Exists(n.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	if !exists {
		return nil, fmt.Errorf("'%s' file does not exist", path)
	}
	content, err := afero.ReadFile(n.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	globals, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to retrieve object map from '%s', got %T", path, doc)
	}
	n.log.Debug("globals file loaded", "path", path, "count", len(globals))
	return globals, nil
}

func (n *normalizer) functionMap(ctx context.Context, field string, value any) (map[string]tplengine.FunctionEntry, error) {
	switch value.(type) {
	case nil:
		return nil, nil
	case map[string]any, map[string]tplengine.FunctionEntry, map[string]tplengine.Callable:
		if !isReference(value) {
			fm, err := functionMap(value)
			if err != nil {
				return nil, fieldError(field, err)
			}
			return fm, nil
		}
	}
	loaded, err := n.load(ctx, field, value)
	if err != nil {
		return nil, err
	}
	fm, err := functionMap(loaded)
	if err != nil {
		return nil, fieldErrorf(field, "failed to load module: imported value is not a function map: %w", err)
	}
	return fm, nil
}

func (n *normalizer) advanced(ctx context.Context, out *writer.Options, value any) error {
	if value == nil {
		return nil
	}
	if fn, err := advancedFunc(value); err == nil {
		out.Advanced = fn
		return nil
	}
	loaded, err := n.load(ctx, FieldAdvanced, value)
	if err != nil {
		return err
	}
	fn, err := advancedFunc(loaded)
	if err != nil {
		return fieldErrorf(FieldAdvanced, "failed to load module: %w", err)
	}
	out.Advanced = fn
	return nil
}

func (n *normalizer) load(ctx context.Context, field string, value any) (any, error) {
	ref, _, err := extension.ParseReference(field, value)
	if err != nil {
		return nil, fieldError(field, err)
	}
	loaded, err := extension.Resolve(ctx, n.loader, field, ref)
	if err != nil {
		return nil, fieldError(field, err)
	}
	n.log.Debug("module resolved", "option", field, "module", ref.Module, "export", ref.ExportOr(field))
	return loaded, nil
}

// isReference reports whether value is a {module, export} mapping rather than
// a function map. A mapping whose module entry is itself a function, or that
// has keys besides module and export, is a function map.
func isReference(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	module, hasModule := m["module"]
	if !hasModule {
		return false
	}
	for key := range m {
		if key != "module" && key != "export" {
			return false
		}
	}
	if s, isString := module.(string); isString {
		return !lambda.IsFunctionLike(s)
	}
	_, err := callable(module)
	return err != nil
}

func (n *normalizer) markdown(out *writer.Options, field string, value any) error {
	var enabled bool
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		enabled = v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fieldErrorf(field, "expected boolean, got %q", v)
		}
		enabled = b
	default:
		return fieldErrorf(field, "expected boolean, got %T", value)
	}
	out.Markdown = &enabled
	return nil
}

func (n *normalizer) markdownOptions(out *writer.Options, value any) error {
	switch v := value.(type) {
	case nil:
	case markdown.Options:
		out.MarkdownOptions = v
	case map[string]any:
		opts, err := markdown.DecodeOptions(v)
		if err != nil {
			return fieldError(FieldMarkdownOptions, err)
		}
		out.MarkdownOptions = opts
	default:
		return fieldErrorf(FieldMarkdownOptions, "expected object, got %T", value)
	}
	return nil
}
