package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/compozy/tplwriter/pkg/filewriter"
	"github.com/compozy/tplwriter/pkg/markdown"
	"github.com/compozy/tplwriter/pkg/tplengine"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewsFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.FromSlash(name), []byte(content), 0o644))
	}
	return fs
}

func readOutput(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(content)
}

func TestOptions_WithDefaults(t *testing.T) {
	t.Run("Should fill every omitted field", func(t *testing.T) {
		opts := Options{}.WithDefaults()

		name, fixed := opts.View.Name()
		assert.True(t, fixed)
		assert.Equal(t, "main.twig", name)
		assert.Equal(t, []string{"views"}, opts.ViewsDir)
		assert.Equal(t, "build", opts.OutDir)
		assert.NotNil(t, opts.OutFile)
		assert.Equal(t, filewriter.DefaultFileMode, opts.FileMode)
		assert.Empty(t, opts.Globals)
		assert.Empty(t, opts.Functions)
		assert.Empty(t, opts.Filters)
		assert.NoError(t, opts.Advanced(nil))
		assert.True(t, opts.MarkdownEnabled())
		assert.Equal(t, markdown.DefaultOptions(), opts.MarkdownOptions)
		assert.NotNil(t, opts.FS)
	})

	t.Run("Should keep provided values", func(t *testing.T) {
		disabled := false
		opts := Options{
			View:     ViewName("post.twig"),
			ViewsDir: []string{"a", "b"},
			OutDir:   "dist",
			Markdown: &disabled,
		}.WithDefaults()

		name, _ := opts.View.Name()
		assert.Equal(t, "post.twig", name)
		assert.Equal(t, []string{"a", "b"}, opts.ViewsDir)
		assert.Equal(t, "dist", opts.OutDir)
		assert.False(t, opts.MarkdownEnabled())
	})

	t.Run("Should reject empty views directories", func(t *testing.T) {
		opts := Options{ViewsDir: []string{""}}.WithDefaults()

		assert.ErrorContains(t, opts.Validate(), "invalid writer options")
	})

	t.Run("Should reject entries without a callable", func(t *testing.T) {
		opts := Options{Filters: map[string]tplengine.FunctionEntry{"x": {}}}.WithDefaults()

		assert.ErrorContains(t, opts.Validate(), `filter "x" has no callable`)
	})
}

func TestWriter_Write(t *testing.T) {
	t.Run("Should render globals into the output file", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			View:    ViewName("main.twig"),
			OutDir:  out,
			Globals: map[string]any{"title": "Hello"},
			FS:      viewsFS(t, map[string]string{"views/main.twig": "<h1>{{ .title }}</h1>{{ .body }}"}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"body": "x"}))

		assert.Equal(t, "<h1>Hello</h1>x", readOutput(t, out, "unnamed-1.html"))
	})

	t.Run("Should provide the markdown filter by default", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			OutDir: out,
			FS:     viewsFS(t, map[string]string{"views/main.twig": "{{ .body | markdown }}"}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"body": "# Hi", "output": map[string]any{"url": "hi"}}))

		assert.Equal(t, "<h1 id=\"hi\">Hi</h1>\n", readOutput(t, out, "hi.html"))
	})

	t.Run("Should apply markdown options", func(t *testing.T) {
		out := t.TempDir()
		opts := markdown.DefaultOptions()
		opts.HeadingLevelStart = 2
		w, err := New(t.Context(), Options{
			OutDir:          out,
			MarkdownOptions: opts,
			FS:              viewsFS(t, map[string]string{"views/main.twig": "{{ .body | markdown }}"}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"body": "# Hi"}))

		assert.Contains(t, readOutput(t, out, "unnamed-1.html"), "<h2")
	})

	t.Run("Should leave the markdown filter out when disabled", func(t *testing.T) {
		disabled := false
		w, err := New(t.Context(), Options{
			OutDir:   t.TempDir(),
			Markdown: &disabled,
			FS:       viewsFS(t, map[string]string{"views/main.twig": "{{ .body | markdown }}"}),
		})
		require.NoError(t, err)

		err = w.Write(t.Context(), Data{"body": "# Hi"})

		assert.ErrorContains(t, err, `function "markdown" not defined`)
	})

	t.Run("Should register functions and filters with their options", func(t *testing.T) {
		out := t.TempDir()
		shout := func(args ...any) (any, error) { return strings.ToUpper(fmt.Sprint(args...)), nil }
		bold := func(args ...any) (any, error) { return fmt.Sprintf("<b>%v</b>", args[0]), nil }
		w, err := New(t.Context(), Options{
			OutDir:    out,
			Functions: map[string]tplengine.FunctionEntry{"shout": tplengine.Plain(shout)},
			Filters: map[string]tplengine.FunctionEntry{
				"bold": tplengine.WithOptions(bold, tplengine.CallableOptions{IsSafe: []string{"html"}}),
			},
			FS: viewsFS(t, map[string]string{"views/main.twig": `{{ shout "hey" }} {{ .name | bold }}`}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"name": "x"}))

		assert.Equal(t, "HEY <b>x</b>", readOutput(t, out, "unnamed-1.html"))
	})

	t.Run("Should select the view per document", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			OutDir: out,
			View: ViewFunc(func(d Data) (string, error) {
				return fmt.Sprintf("%v.twig", d["layout"]), nil
			}),
			FS: viewsFS(t, map[string]string{
				"views/post.twig": "post:{{ .title }}",
				"views/page.twig": "page:{{ .title }}",
			}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"layout": "post", "title": "a", "output": map[string]any{"path": "a.html"}}))
		require.NoError(t, w.Write(t.Context(), Data{"layout": "page", "title": "b", "output": map[string]any{"path": "b.html"}}))

		assert.Equal(t, "post:a", readOutput(t, out, "a.html"))
		assert.Equal(t, "page:b", readOutput(t, out, "b.html"))
	})

	t.Run("Should search views directories in order", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			OutDir:   out,
			ViewsDir: []string{"theme", "base"},
			FS: viewsFS(t, map[string]string{
				"theme/main.twig": `{{ template "nav.twig" }}theme`,
				"base/main.twig":  "base",
				"base/nav.twig":   "nav|",
			}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{}))

		assert.Equal(t, "nav|theme", readOutput(t, out, "unnamed-1.html"))
	})

	t.Run("Should hand the live environment to the advanced hook", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			OutDir: out,
			FS:     viewsFS(t, map[string]string{"views/main.twig": "[[ .body ]]"}),
			Advanced: func(env *tplengine.Environment) error {
				return env.Delims("[[", "]]")
			},
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"body": "x"}))

		assert.Equal(t, "x", readOutput(t, out, "unnamed-1.html"))
	})

	t.Run("Should abort construction when the advanced hook fails", func(t *testing.T) {
		boom := errors.New("boom")

		_, err := New(t.Context(), Options{
			OutDir:   t.TempDir(),
			Advanced: func(*tplengine.Environment) error { return boom },
		})

		assert.ErrorIs(t, err, boom)
	})

	t.Run("Should let a user filter replace the markdown filter", func(t *testing.T) {
		out := t.TempDir()
		fn := func(args ...any) (any, error) { return fmt.Sprintf("custom:%v", args[0]), nil }
		w, err := New(t.Context(), Options{
			OutDir:  out,
			Filters: map[string]tplengine.FunctionEntry{"markdown": tplengine.Plain(fn)},
			FS:      viewsFS(t, map[string]string{"views/main.twig": "{{ .body | markdown }}"}),
		})
		require.NoError(t, err)

		require.NoError(t, w.Write(t.Context(), Data{"body": "# Hi"}))

		assert.Equal(t, "custom:# Hi", readOutput(t, out, "unnamed-1.html"))
	})

	t.Run("Should still reject a function named like the markdown filter", func(t *testing.T) {
		fn := func(args ...any) (any, error) { return args[0], nil }

		_, err := New(t.Context(), Options{
			OutDir:    t.TempDir(),
			Functions: map[string]tplengine.FunctionEntry{"markdown": tplengine.Plain(fn)},
		})

		assert.ErrorContains(t, err, `function "markdown" conflicts`)
	})

	t.Run("Should report a missing view", func(t *testing.T) {
		w, err := New(t.Context(), Options{
			OutDir: t.TempDir(),
			View:   ViewName("missing.twig"),
			FS:     viewsFS(t, map[string]string{"views/main.twig": "x"}),
		})
		require.NoError(t, err)

		err = w.Func()(t.Context(), Data{})

		assert.ErrorContains(t, err, "template not found: missing.twig")
	})

	t.Run("Should render concurrently", func(t *testing.T) {
		out := t.TempDir()
		w, err := New(t.Context(), Options{
			OutDir:  out,
			Globals: map[string]any{"site": "s"},
			FS:      viewsFS(t, map[string]string{"views/main.twig": "{{ .site }}-{{ .n }}"}),
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Go(func() {
				data := Data{"n": i, "output": map[string]any{"path": fmt.Sprintf("%d.html", i)}}
				assert.NoError(t, w.Write(t.Context(), data))
			})
		}
		wg.Wait()

		for i := range 10 {
			assert.Equal(t, fmt.Sprintf("s-%d", i), readOutput(t, out, fmt.Sprintf("%d.html", i)))
		}
	})
}

func TestView_Resolve(t *testing.T) {
	t.Run("Should reject empty names from view functions", func(t *testing.T) {
		_, err := ViewFunc(func(Data) (string, error) { return "", nil }).Resolve(Data{})

		assert.ErrorContains(t, err, "empty template name")
	})
}
