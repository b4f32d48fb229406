package tplengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment_XSSPrevention(t *testing.T) {
	render := func(t *testing.T, view string, data map[string]any) string {
		t.Helper()
		fs := memFS(t, map[string]string{"views/view.twig": view})
		out, err := NewEnvironment("views").WithFS(fs).Render("view.twig", data)
		require.NoError(t, err)
		return out
	}

	t.Run("Should escape HTML in template output", func(t *testing.T) {
		result := render(t, `<div>{{ .userInput }}</div>`, map[string]any{
			"userInput": `<script>alert('XSS')</script>`,
		})

		assert.Equal(t, `<div>&lt;script&gt;alert(&#39;XSS&#39;)&lt;/script&gt;</div>`, result)
	})

	t.Run("Should escape HTML attributes", func(t *testing.T) {
		result := render(t, `<input value="{{ .userInput }}">`, map[string]any{
			"userInput": `" onclick="alert('XSS')`,
		})

		assert.NotContains(t, result, `" onclick="`)
		assert.Contains(t, result, `&#34; onclick=&#34;`)
	})

	t.Run("Should neutralize script context injection", func(t *testing.T) {
		result := render(t, `<script>var v = {{ .userInput }};</script>`, map[string]any{
			"userInput": `</script><script>alert('XSS')</script>`,
		})

		assert.NotContains(t, result, `</script><script>`)
	})

	t.Run("Should reject javascript URLs", func(t *testing.T) {
		result := render(t, `<a href="{{ .url }}">link</a>`, map[string]any{
			"url": `javascript:alert('XSS')`,
		})

		assert.NotContains(t, result, "javascript:")
		assert.Contains(t, result, "#ZgotmplZ")
	})

	t.Run("Should escape already escaped entities once more", func(t *testing.T) {
		result := render(t, `{{ .alreadyEscaped }}`, map[string]any{
			"alreadyEscaped": `&lt;script&gt;`,
		})

		assert.Equal(t, `&amp;lt;script&amp;gt;`, result)
	})
}
