package tplengine

import (
	"errors"
	"html/template"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("Should adapt a typed Go function", func(t *testing.T) {
		fn, err := Wrap(strings.ToUpper)
		require.NoError(t, err)

		out, err := fn("abc")

		require.NoError(t, err)
		assert.Equal(t, "ABC", out)
	})

	t.Run("Should convert string kinds between each other", func(t *testing.T) {
		fn, err := Wrap(strings.ToUpper)
		require.NoError(t, err)

		out, err := fn(template.HTML("<b>"))

		require.NoError(t, err)
		assert.Equal(t, "<B>", out)
	})

	t.Run("Should propagate the function error", func(t *testing.T) {
		boom := errors.New("boom")
		fn, err := Wrap(func(string) (string, error) { return "", boom })
		require.NoError(t, err)

		_, err = fn("x")

		assert.ErrorIs(t, err, boom)
	})

	t.Run("Should support variadic functions", func(t *testing.T) {
		fn, err := Wrap(func(sep string, parts ...string) string { return strings.Join(parts, sep) })
		require.NoError(t, err)

		out, err := fn("-", "a", "b", "c")

		require.NoError(t, err)
		assert.Equal(t, "a-b-c", out)
	})

	t.Run("Should reject wrong argument count", func(t *testing.T) {
		fn, err := Wrap(strings.ToUpper)
		require.NoError(t, err)

		_, err = fn("a", "b")

		assert.ErrorContains(t, err, "wrong number of args")
	})

	t.Run("Should reject non-functions and bad signatures", func(t *testing.T) {
		_, err := Wrap("not a function")
		assert.ErrorContains(t, err, "is not a function")

		_, err = Wrap(func() {})
		assert.ErrorContains(t, err, "must return one value")
	})

	t.Run("Should not convert between unrelated kinds", func(t *testing.T) {
		fn, err := Wrap(strings.ToUpper)
		require.NoError(t, err)

		_, err = fn(65)

		assert.ErrorContains(t, err, "cannot use int as string")
	})
}

func TestDecodeCallableOptions(t *testing.T) {
	t.Run("Should decode engine flags", func(t *testing.T) {
		opts, err := DecodeCallableOptions(map[string]any{"is_safe": []any{"html"}, "pre_escape": "html"})

		require.NoError(t, err)
		assert.Equal(t, []string{"html"}, opts.IsSafe)
		assert.Equal(t, "html", opts.PreEscape)
	})

	t.Run("Should reject unknown keys", func(t *testing.T) {
		_, err := DecodeCallableOptions(map[string]any{"needs_context": true})

		assert.ErrorContains(t, err, "invalid callable options")
	})

	t.Run("Should reject non-mapping values", func(t *testing.T) {
		_, err := DecodeCallableOptions("html")

		assert.ErrorContains(t, err, "must be a mapping")
	})
}

func TestFunctionEntry(t *testing.T) {
	t.Run("Should only report options when provided", func(t *testing.T) {
		fn := func(_ ...any) (any, error) { return "x", nil }

		assert.False(t, Plain(fn).HasOptions())
		assert.True(t, WithOptions(fn, CallableOptions{}).HasOptions())
	})

	t.Run("Should mark results safe for all contexts", func(t *testing.T) {
		fn := func(_ ...any) (any, error) { return "<b>", nil }
		entry := WithOptions(fn, CallableOptions{IsSafe: []string{"all"}})

		out, err := entry.decorate()()

		require.NoError(t, err)
		assert.Equal(t, template.HTML("<b>"), out)
	})
}
