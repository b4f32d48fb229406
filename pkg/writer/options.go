package writer

import (
	"errors"
	"fmt"
	"os"

	"github.com/compozy/tplwriter/pkg/filewriter"
	"github.com/compozy/tplwriter/pkg/markdown"
	"github.com/compozy/tplwriter/pkg/tplengine"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	DefaultView     = "main.twig"
	DefaultViewsDir = "views"
	DefaultOutDir   = filewriter.DefaultOutDir
)

// Data is one document to render.
type Data = map[string]any

// View selects the template for a document: a fixed name or a function of the document.
type View struct {
	name string
	fn   func(Data) (string, error)
}

// ViewName selects the same template for every document.
func ViewName(name string) View {
	return View{name: name}
}

// ViewFunc selects the template per document.
func ViewFunc(fn func(Data) (string, error)) View {
	return View{fn: fn}
}

// IsZero reports whether no view was set.
func (v View) IsZero() bool {
	return v.name == "" && v.fn == nil
}

// Name returns the fixed template name, if any.
func (v View) Name() (string, bool) {
	return v.name, v.fn == nil && v.name != ""
}

// Resolve returns the template name for data.
func (v View) Resolve(data Data) (string, error) {
	if v.fn == nil {
		return v.name, nil
	}
	name, err := v.fn(data)
	if err != nil {
		return "", fmt.Errorf("failed to select view: %w", err)
	}
	if name == "" {
		return "", errors.New("view function returned an empty template name")
	}
	return name, nil
}

// Options is the fully resolved writer configuration. No field holds a
// reference that still needs loading.
type Options struct {
	View            View
	ViewsDir        []string `validate:"required,min=1,dive,required"`
	OutDir          string   `validate:"required"`
	OutFile         filewriter.OutFileFunc
	FileMode        os.FileMode
	Globals         map[string]any
	Functions       map[string]tplengine.FunctionEntry
	Filters         map[string]tplengine.FunctionEntry
	Advanced        tplengine.AdvancedFunc
	Markdown        *bool
	MarkdownOptions markdown.Options
	// FS is where views are read from. Output always goes to the OS filesystem.
	FS afero.Fs
}

// MarkdownEnabled reports whether the markdown filter is installed.
func (o *Options) MarkdownEnabled() bool {
	return o.Markdown == nil || *o.Markdown
}

// WithDefaults returns a copy of o with every omitted field set to its default.
func (o Options) WithDefaults() Options {
	if o.View.IsZero() {
		o.View = ViewName(DefaultView)
	}
	if len(o.ViewsDir) == 0 {
		o.ViewsDir = []string{DefaultViewsDir}
	}
	if o.OutDir == "" {
		o.OutDir = DefaultOutDir
	}
	if o.OutFile == nil {
		o.OutFile = filewriter.DefaultOutFile()
	}
	if o.FileMode == 0 {
		o.FileMode = filewriter.DefaultFileMode
	}
	if o.Globals == nil {
		o.Globals = map[string]any{}
	}
	if o.Functions == nil {
		o.Functions = map[string]tplengine.FunctionEntry{}
	}
	if o.Filters == nil {
		o.Filters = map[string]tplengine.FunctionEntry{}
	}
	if o.Advanced == nil {
		o.Advanced = func(*tplengine.Environment) error { return nil }
	}
	if o.MarkdownOptions == (markdown.Options{}) {
		o.MarkdownOptions = markdown.DefaultOptions()
	}
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o *Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid writer options: %w", err)
	}
	for name, entry := range o.Functions {
		if entry.Fn == nil {
			return fmt.Errorf("function %q has no callable", name)
		}
	}
	for name, entry := range o.Filters {
		if entry.Fn == nil {
			return fmt.Errorf("filter %q has no callable", name)
		}
	}
	return nil
}
