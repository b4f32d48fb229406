package extension

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/compozy/tplwriter/pkg/tplengine"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	t.Run("Should accept a module path", func(t *testing.T) {
		ref, ok, err := ParseReference("functions", "./fn.yaml")

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Reference{Module: "./fn.yaml"}, ref)
		assert.Equal(t, "functions", ref.ExportOr("functions"))
	})

	t.Run("Should accept a module and export mapping", func(t *testing.T) {
		ref, ok, err := ParseReference("filters", map[string]any{"module": "./m.yaml", "export": "bar"})

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "bar", ref.ExportOr("filters"))
		assert.Equal(t, "./m.yaml#bar", ref.String())
	})

	t.Run("Should report absence for nil", func(t *testing.T) {
		_, ok, err := ParseReference("advanced", nil)

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should name the field on type errors", func(t *testing.T) {
		_, _, err := ParseReference("functions", 42)
		assert.ErrorContains(t, err, "'functions' option is invalid type, expected object or string")

		_, _, err = ParseReference("functions", map[string]any{"module": 1})
		assert.ErrorContains(t, err, "'functions.module' option is invalid type")

		_, _, err = ParseReference("functions", map[string]any{"module": "./a", "export": true})
		assert.ErrorContains(t, err, "'functions.export' option is invalid type")
	})
}

func TestModule_Lookup(t *testing.T) {
	t.Run("Should prefer the named export", func(t *testing.T) {
		m := &Module{Exports: map[string]any{"bar": 1, "default": 2}}

		v, ok := m.Lookup("bar")

		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("Should fall back to the default export", func(t *testing.T) {
		m := &Module{Exports: map[string]any{"default": 2}, Value: 3}

		v, _ := m.Lookup("bar")

		assert.Equal(t, 2, v)
	})

	t.Run("Should fall back to the whole module", func(t *testing.T) {
		m := &Module{Value: "whole"}

		v, _ := m.Lookup("bar")

		assert.Equal(t, "whole", v)
	})

	t.Run("Should use the exports when there is no module value", func(t *testing.T) {
		exports := map[string]any{"other": 1}

		v, ok := (&Module{Exports: exports}).Lookup("bar")

		assert.True(t, ok)
		assert.Equal(t, exports, v)
	})

	t.Run("Should report an empty module as undefined", func(t *testing.T) {
		_, ok := (&Module{}).Lookup("bar")

		assert.False(t, ok)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("Should load registered modules", func(t *testing.T) {
		r := NewRegistry()
		m := &Module{Value: "x"}
		require.NoError(t, r.Register("helpers", m))

		got, err := r.Load(t.Context(), " helpers ")

		require.NoError(t, err)
		assert.Same(t, m, got)
		assert.Equal(t, []string{"helpers"}, r.Names())
	})

	t.Run("Should reject invalid registrations", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("a", &Module{}))

		assert.ErrorIs(t, r.Register("a", &Module{}), ErrModuleAlreadyRegistered)
		assert.ErrorIs(t, r.Register(" ", &Module{}), ErrModuleNameEmpty)
		assert.ErrorIs(t, r.Register("b", nil), ErrModuleNil)
	})

	t.Run("Should report unknown modules with the registered names", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("b", &Module{}))
		require.NoError(t, r.Register("a", &Module{}))

		_, err := r.Load(t.Context(), "missing")

		assert.ErrorIs(t, err, ErrModuleNotFound)
		assert.ErrorContains(t, err, "missing (registered: a, b)")
	})
}

func TestFileLoader(t *testing.T) {
	cwd := filepath.FromSlash("/project")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(cwd, "m.yaml"), []byte("bar: 1\ndefault: 2\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(cwd, "list.yaml"), []byte("- a\n- b\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(cwd, "bad.yaml"), []byte("a: [\n"), 0o644))

	t.Run("Should load relative paths against the working directory", func(t *testing.T) {
		m, err := NewFileLoader(fs, cwd).Load(t.Context(), "./m.yaml")

		require.NoError(t, err)
		assert.Equal(t, 1, m.Exports["bar"])
		assert.Equal(t, map[string]any{"bar": 1, "default": 2}, m.Value)
	})

	t.Run("Should load absolute paths as they are", func(t *testing.T) {
		m, err := NewFileLoader(fs, filepath.FromSlash("/elsewhere")).Load(t.Context(), filepath.Join(cwd, "list.yaml"))

		require.NoError(t, err)
		assert.Nil(t, m.Exports)
		assert.Equal(t, []any{"a", "b"}, m.Value)
	})

	t.Run("Should cache loaded modules", func(t *testing.T) {
		l := NewFileLoader(fs, cwd)
		first, err := l.Load(t.Context(), "./m.yaml")
		require.NoError(t, err)

		second, err := l.Load(t.Context(), "./m.yaml")

		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("Should report missing and malformed files", func(t *testing.T) {
		l := NewFileLoader(fs, cwd)

		_, err := l.Load(t.Context(), "./nope.yaml")
		assert.ErrorIs(t, err, ErrModuleNotFound)

		_, err = l.Load(t.Context(), "./bad.yaml")
		assert.ErrorContains(t, err, "failed to parse")
	})
}

func TestResolve(t *testing.T) {
	cwd := filepath.FromSlash("/project")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(cwd, "m.yaml"), []byte("bar: named\ndefault: fallback\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(cwd, "empty.yaml"), []byte(""), 0o644))
	registry := NewRegistry()
	require.NoError(t, registry.Register("helpers", &Module{Exports: map[string]any{"filters": "from registry"}}))
	loader := &DefaultLoader{Files: NewFileLoader(fs, cwd), Registry: registry}

	t.Run("Should resolve the named export", func(t *testing.T) {
		v, err := Resolve(t.Context(), loader, "filters", Reference{Module: "./m.yaml", Export: "bar"})

		require.NoError(t, err)
		assert.Equal(t, "named", v)
	})

	t.Run("Should fall back to the default export", func(t *testing.T) {
		v, err := Resolve(t.Context(), loader, "filters", Reference{Module: "./m.yaml", Export: "baz"})

		require.NoError(t, err)
		assert.Equal(t, "fallback", v)
	})

	t.Run("Should use the field name as the preferred export", func(t *testing.T) {
		v, err := Resolve(t.Context(), loader, "filters", Reference{Module: "helpers"})

		require.NoError(t, err)
		assert.Equal(t, "from registry", v)
	})

	t.Run("Should wrap load failures with the module path", func(t *testing.T) {
		_, err := Resolve(t.Context(), loader, "functions", Reference{Module: "./missing.yaml"})

		assert.ErrorIs(t, err, ErrModuleNotFound)
		assert.ErrorContains(t, err, "failed to load module './missing.yaml'")
	})

	t.Run("Should fail on an empty module", func(t *testing.T) {
		_, err := Resolve(t.Context(), loader, "functions", Reference{Module: "./empty.yaml"})

		assert.ErrorContains(t, err, "'functions' option: imported value is undefined")
	})
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	t.Run("Should export std filters", func(t *testing.T) {
		v, err := Resolve(t.Context(), r, "filters", Reference{Module: StdModule})
		require.NoError(t, err)
		filters, ok := v.(map[string]tplengine.FunctionEntry)
		require.True(t, ok)

		out, err := filters["excerpt"].Fn("intro\n<!-- more -->\nrest")
		require.NoError(t, err)
		assert.Equal(t, "intro", out)

		out, err = filters["reading_time"].Fn("a few words")
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})

	t.Run("Should export the strict hook as default", func(t *testing.T) {
		v, err := Resolve(context.Background(), r, "advanced", Reference{Module: StrictModule})
		require.NoError(t, err)

		_, ok := v.(tplengine.AdvancedFunc)
		assert.True(t, ok)
	})

	t.Run("Should refuse to register builtins twice", func(t *testing.T) {
		assert.ErrorIs(t, RegisterBuiltins(r), ErrModuleAlreadyRegistered)
	})
}
