// Package reader discovers input documents and turns them into render data.
//
// Markdown files become {header, body} where header holds the path details
// and any YAML front matter. YAML and JSON files must hold a mapping; the
// path details are merged into its header key.
package reader

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const DefaultPattern = "**/*.{md,markdown,yaml,yml,json}"

// Document is the data handed to the writer for one input file.
type Document = map[string]any

// Reader reads documents below a root directory.
type Reader struct {
	fs      afero.Fs
	root    string
	pattern string
}

// New creates a reader for files under root matching pattern.
func New(fs afero.Fs, root, pattern string) (*Reader, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid input pattern %q", pattern)
	}
	if root == "" {
		root = "."
	}
	exists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input directory %q: %w", root, err)
	}
	if !exists {
		return nil, fmt.Errorf("input directory %q does not exist", root)
	}
	return &Reader{fs: fs, root: root, pattern: pattern}, nil
}

// Root returns the input directory.
func (r *Reader) Root() string {
	return r.root
}

// Files returns the matching files as sorted slash separated paths relative to the root.
func (r *Reader) Files() ([]string, error) {
	base := r.fs
	if filepath.Clean(r.root) != "." {
		base = afero.NewBasePathFs(r.fs, r.root)
	}
	matches, err := doublestar.Glob(afero.NewIOFS(base), r.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to match %q in %s: %w", r.pattern, r.root, err)
	}
	slices.Sort(matches)
	return matches, nil
}

// Read parses the file at rel, a path returned by Files.
func (r *Reader) Read(ctx context.Context, rel string) (Document, error) {
	content, err := afero.ReadFile(r.fs, filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	var doc Document
	switch ext := strings.ToLower(path.Ext(rel)); ext {
	case ".md", ".markdown":
		doc, err = parseMarkdown(rel, content)
	case ".yaml", ".yml", ".json":
		doc, err = parseData(rel, content)
	default:
		err = fmt.Errorf("unsupported input type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rel, err)
	}
	logger.FromContext(ctx).Debug("document read", "path", rel)
	return doc, nil
}

// ReadAll reads every matching document in path order.
func (r *Reader) ReadAll(ctx context.Context) ([]Document, error) {
	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := r.Read(ctx, file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func pathHeader(rel string) map[string]any {
	ext := path.Ext(rel)
	base := path.Base(rel)
	return map[string]any{
		"path":     rel,
		"dirname":  path.Dir(rel),
		"basename": strings.TrimSuffix(base, ext),
		"extname":  ext,
	}
}

var frontMatterDelim = []byte("---")

func parseMarkdown(rel string, content []byte) (Document, error) {
	header := pathHeader(rel)
	body := content
	if front, rest, ok := splitFrontMatter(content); ok {
		var meta map[string]any
		if err := yaml.Unmarshal(front, &meta); err != nil {
			return nil, fmt.Errorf("invalid front matter: %w", err)
		}
		if len(meta) > 0 {
			if err := mergo.Merge(&header, meta, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge front matter: %w", err)
			}
		}
		body = rest
	}
	return Document{"header": header, "body": string(body)}, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the body.
func splitFrontMatter(content []byte) (front, body []byte, ok bool) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	first, rest, found := bytes.Cut(content, []byte("\n"))
	if !found || !bytes.Equal(bytes.TrimSpace(first), frontMatterDelim) {
		return nil, content, false
	}
	offset := 0
	for offset <= len(rest) {
		line, next, more := bytes.Cut(rest[offset:], []byte("\n"))
		if bytes.Equal(bytes.TrimSpace(line), frontMatterDelim) {
			return rest[:offset], next, true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return nil, content, false
}

func parseData(rel string, content []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", raw)
	}
	header, _ := doc["header"].(map[string]any)
	if header == nil {
		header = map[string]any{}
	}
	if err := mergo.Merge(&header, pathHeader(rel)); err != nil {
		return nil, fmt.Errorf("failed to merge header: %w", err)
	}
	doc["header"] = header
	return doc, nil
}
