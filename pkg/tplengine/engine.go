package tplengine

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/Masterminds/sprig/v3"
	"github.com/gosimple/slug"
	"github.com/mohae/deepcopy"
	"github.com/spf13/afero"
)

// ErrSealed is returned when the environment is modified after its views were compiled.
var ErrSealed = errors.New("template environment is already compiled")

// AdvancedFunc receives the live environment before any template is rendered.
type AdvancedFunc func(env *Environment) error

type registration string

const (
	kindFunction registration = "function"
	kindFilter   registration = "filter"
	kindRaw      registration = "func"
)

// Environment is the template engine handle: views search path, globals, functions and filters.
type Environment struct {
	mu         sync.Mutex
	fs         afero.Fs
	viewsDirs  []string
	globals    map[string]any
	funcs      template.FuncMap
	registered map[string]registration
	inline     map[string]string
	leftDelim  string
	rightDelim string
	options    []string
	root       *template.Template
	// pristine is never executed so it can be cloned for RenderString.
	pristine *template.Template
}

// NewEnvironment creates an environment that looks up views in viewsDirs, in order.
func NewEnvironment(viewsDirs ...string) *Environment {
	return &Environment{
		fs:         afero.NewOsFs(),
		viewsDirs:  append([]string(nil), viewsDirs...),
		globals:    make(map[string]any),
		funcs:      make(template.FuncMap),
		registered: make(map[string]registration),
		inline:     make(map[string]string),
	}
}

// WithFS returns the environment reading views from fs
func (e *Environment) WithFS(fs afero.Fs) *Environment {
	if fs != nil {
		e.fs = fs
	}
	return e
}

// ViewsDirs returns the views search path.
func (e *Environment) ViewsDirs() []string {
	return append([]string(nil), e.viewsDirs...)
}

// Globals returns a copy of the registered globals.
func (e *Environment) Globals() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.globals)
}

// AddGlobal makes value available to every template under name.
func (e *Environment) AddGlobal(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return ErrSealed
	}
	e.globals[name] = value
	return nil
}

// AddFunction registers a callable invoked as {{ name arg1 arg2 }}.
func (e *Environment) AddFunction(name string, entry FunctionEntry) error {
	if entry.Fn == nil {
		return fmt.Errorf("function %q has no callable", name)
	}
	return e.register(name, kindFunction, entry.decorate())
}

// AddFilter registers a callable invoked as {{ value | name arg1 }}; the
// callable receives the piped value as its first argument.
func (e *Environment) AddFilter(name string, entry FunctionEntry) error {
	if entry.Fn == nil {
		return fmt.Errorf("filter %q has no callable", name)
	}
	return e.register(name, kindFilter, asFilter(entry.decorate()))
}

// AddFunc registers a plain Go function under name, as text/template would.
func (e *Environment) AddFunc(name string, fn any) error {
	return e.register(name, kindRaw, fn)
}

func (e *Environment) register(name string, kind registration, fn any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return ErrSealed
	}
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if prev, ok := e.registered[name]; ok {
		return fmt.Errorf("%s %q conflicts with a registered %s", kind, name, prev)
	}
	e.registered[name] = kind
	e.funcs[name] = fn
	return nil
}

// AddTemplate registers an inline template; inline templates shadow files in the views dirs.
func (e *Environment) AddTemplate(name, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return ErrSealed
	}
	e.inline[name] = source
	return nil
}

// Delims sets the action delimiters used for every view.
func (e *Environment) Delims(left, right string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return ErrSealed
	}
	e.leftDelim, e.rightDelim = left, right
	return nil
}

// Option sets html/template options such as "missingkey=error".
func (e *Environment) Option(opts ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return ErrSealed
	}
	e.options = append(e.options, opts...)
	return nil
}

func builtinFuncs() template.FuncMap {
	funcMap := sprig.HtmlFuncMap()
	funcMap["slug"] = slug.Make
	return funcMap
}

// Compile parses every view. It runs at most once successfully; afterwards the environment is sealed.
func (e *Environment) Compile() error {
	_, err := e.compiled()
	return err
}

func (e *Environment) compiled() (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return e.root, nil
	}
	root := template.New("").
		Funcs(builtinFuncs()).
		Funcs(e.funcs).
		Delims(e.leftDelim, e.rightDelim).
		Option(e.options...)
	for name, source := range e.inline {
		if _, err := root.New(name).Parse(source); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}
	for _, dir := range e.viewsDirs {
		if err := e.loadDir(root, dir); err != nil {
			return nil, err
		}
	}
	pristine, err := root.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone templates: %w", err)
	}
	e.root, e.pristine = root, pristine
	return root, nil
}

func (e *Environment) loadDir(root *template.Template, dir string) error {
	exists, err := afero.DirExists(e.fs, dir)
	if err != nil {
		return fmt.Errorf("failed to stat views directory %q: %w", dir, err)
	}
	if !exists {
		return fmt.Errorf("views directory %q does not exist", dir)
	}
	return afero.Walk(e.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if root.Lookup(name) != nil {
			return nil
		}
		source, err := afero.ReadFile(e.fs, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		if _, err := root.New(name).Parse(string(source)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		return nil
	})
}

// Render renders the named view with data merged over the globals.
func (e *Environment) Render(name string, data map[string]any) (string, error) {
	root, err := e.compiled()
	if err != nil {
		return "", err
	}
	tmpl := root.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template not found: %s (views: %s)", name, strings.Join(e.viewsDirs, ", "))
	}
	return e.execute(tmpl, data)
}

// RenderString renders an inline template string with the environment's functions and globals.
func (e *Environment) RenderString(source string, data map[string]any) (string, error) {
	if _, err := e.compiled(); err != nil {
		return "", err
	}
	clone, err := e.pristine.Clone()
	if err != nil {
		return "", fmt.Errorf("failed to clone templates: %w", err)
	}
	tmpl, err := clone.New("inline").Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	return e.execute(tmpl, data)
}

func (e *Environment) execute(tmpl *template.Template, data map[string]any) (string, error) {
	context, err := e.renderContext(data)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// renderContext copies data and fills in globals underneath it; data wins on conflicts.
func (e *Environment) renderContext(data map[string]any) (map[string]any, error) {
	context, ok := deepcopy.Copy(data).(map[string]any)
	if !ok || context == nil {
		context = make(map[string]any)
	}
	e.mu.Lock()
	globals := e.globals
	e.mu.Unlock()
	if err := mergo.Merge(&context, globals); err != nil {
		return nil, fmt.Errorf("failed to merge globals: %w", err)
	}
	return context, nil
}
