package extension

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileLoader loads YAML (or JSON) module files. Top-level keys are exports
// and the whole document is the module value. Loaded modules are cached by path.
type FileLoader struct {
	fs    afero.Fs
	cwd   string
	mu    sync.Mutex
	cache map[string]*Module
}

// NewFileLoader resolves relative paths against cwd. An empty cwd means the
// process working directory.
func NewFileLoader(fs afero.Fs, cwd string) *FileLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileLoader{fs: fs, cwd: cwd, cache: make(map[string]*Module)}
}

// Path returns the file path name resolves to.
func (l *FileLoader) Path(name string) (string, error) {
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	cwd := l.cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		cwd = wd
	}
	return filepath.Join(cwd, name), nil
}

func (l *FileLoader) Load(ctx context.Context, name string) (*Module, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.cache[path]; ok {
		return m, nil
	}
	exists, err := afero.Exists(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	content, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	m := &Module{Value: doc}
	if exports, ok := doc.(map[string]any); ok {
		m.Exports = exports
	}
	l.cache[path] = m
	logger.FromContext(ctx).Debug("module file loaded", "path", path)
	return m, nil
}

// IsFilePath reports whether name refers to a file rather than a registered module.
func IsFilePath(name string) bool {
	return strings.HasPrefix(name, ".") || filepath.IsAbs(name)
}

// DefaultLoader sends relative and absolute paths to the file loader and
// every other name to the registry.
type DefaultLoader struct {
	Files    *FileLoader
	Registry *Registry
}

// NewLoader builds a DefaultLoader over fs and the default registry.
func NewLoader(fs afero.Fs, cwd string) *DefaultLoader {
	return &DefaultLoader{Files: NewFileLoader(fs, cwd), Registry: DefaultRegistry()}
}

func (l *DefaultLoader) Load(ctx context.Context, name string) (*Module, error) {
	if IsFilePath(name) {
		return l.Files.Load(ctx, name)
	}
	return l.Registry.Load(ctx, name)
}

// Resolve loads ref and picks the export named by ref, falling back to field,
// then the default export, then the whole module.
func Resolve(ctx context.Context, loader Loader, field string, ref Reference) (any, error) {
	m, err := loader.Load(ctx, ref.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to load module '%s': %w", ref.Module, err)
	}
	v, ok := m.Lookup(ref.ExportOr(field))
	if !ok {
		return nil, fmt.Errorf(
			"failed to load module specified in '%s' option: imported value is undefined",
			field,
		)
	}
	return v, nil
}
