package markdown

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Options controls the Markdown to HTML conversion.
type Options struct {
	Tables            bool   `mapstructure:"tables"`
	AutoHeadingID     bool   `mapstructure:"auto_heading_id"`
	CustomHeadingID   bool   `mapstructure:"custom_heading_id"`
	HeadingLevelStart int    `mapstructure:"heading_level_start" validate:"min=1,max=6"`
	Unsafe            bool   `mapstructure:"unsafe"`
	HardWraps         bool   `mapstructure:"hard_wraps"`
	XHTML             bool   `mapstructure:"xhtml"`
	Strikethrough     bool   `mapstructure:"strikethrough"`
	Linkify           bool   `mapstructure:"linkify"`
	TaskList          bool   `mapstructure:"task_list"`
	Footnote          bool   `mapstructure:"footnote"`
	Typographer       bool   `mapstructure:"typographer"`
	HighlightStyle    string `mapstructure:"highlight_style"`
}

// DefaultOptions mirrors GitHub-style rendering: tables, heading ids, raw HTML passed through.
func DefaultOptions() Options {
	return Options{
		Tables:            true,
		AutoHeadingID:     true,
		CustomHeadingID:   true,
		HeadingLevelStart: 1,
		Unsafe:            true,
	}
}

// DecodeOptions overlays raw on top of DefaultOptions. Unknown keys are rejected.
func DecodeOptions(raw map[string]any) (Options, error) {
	opts := DefaultOptions()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Options{}, fmt.Errorf("failed to create markdown options decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, fmt.Errorf("invalid markdown options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid markdown options: %w", err)
	}
	return nil
}

// Converter turns Markdown into HTML. It is safe for concurrent use.
type Converter struct {
	md goldmark.Markdown
}

// NewConverter builds a goldmark pipeline from opts.
func NewConverter(opts Options) (*Converter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var extensions []goldmark.Extender
	if opts.Tables {
		extensions = append(extensions, extension.Table)
	}
	if opts.Strikethrough {
		extensions = append(extensions, extension.Strikethrough)
	}
	if opts.Linkify {
		extensions = append(extensions, extension.Linkify)
	}
	if opts.TaskList {
		extensions = append(extensions, extension.TaskList)
	}
	if opts.Footnote {
		extensions = append(extensions, extension.Footnote)
	}
	if opts.Typographer {
		extensions = append(extensions, extension.Typographer)
	}
	if opts.HighlightStyle != "" {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(opts.HighlightStyle),
		))
	}

	var parserOpts []parser.Option
	if opts.AutoHeadingID {
		parserOpts = append(parserOpts, parser.WithAutoHeadingID())
	}
	if opts.CustomHeadingID {
		parserOpts = append(parserOpts, parser.WithAttribute())
	}
	if opts.HeadingLevelStart > 1 {
		parserOpts = append(parserOpts, parser.WithASTTransformers(
			util.Prioritized(&headingShift{offset: opts.HeadingLevelStart - 1}, 100),
		))
	}

	var rendererOpts []goldmark.Option
	var htmlOpts []renderer.Option
	if opts.Unsafe {
		htmlOpts = append(htmlOpts, html.WithUnsafe())
	}
	if opts.HardWraps {
		htmlOpts = append(htmlOpts, html.WithHardWraps())
	}
	if opts.XHTML {
		htmlOpts = append(htmlOpts, html.WithXHTML())
	}
	rendererOpts = append(rendererOpts,
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(parserOpts...),
		goldmark.WithRendererOptions(htmlOpts...),
	)
	return &Converter{md: goldmark.New(rendererOpts...)}, nil
}

// Convert renders source as HTML.
func (c *Converter) Convert(source string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}

// headingShift pushes every heading down by offset levels, capped at h6.
type headingShift struct {
	offset int
}

func (h *headingShift) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			heading.Level = min(heading.Level+h.offset, 6)
		}
		return ast.WalkContinue, nil
	})
}
