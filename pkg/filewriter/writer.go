package filewriter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/google/renameio/v2"
)

const (
	DefaultOutDir   = "build"
	DefaultFileMode = os.FileMode(0o644)
)

// Data is one document handed to the writer.
type Data = map[string]any

// OutFileFunc derives the output path, relative to the output directory, for a document.
type OutFileFunc func(data Data) (string, error)

// RenderFunc produces the file contents for a document.
type RenderFunc func(ctx context.Context, data Data) (string, error)

// Options configures a Writer.
type Options struct {
	OutDir   string
	OutFile  OutFileFunc
	Render   RenderFunc
	FileMode os.FileMode
}

// Writer renders documents and writes each one to its own file.
type Writer struct {
	outDir  string
	outFile OutFileFunc
	render  RenderFunc
	mode    os.FileMode
}

// New validates opts and fills in defaults.
func New(opts Options) (*Writer, error) {
	if opts.Render == nil {
		return nil, errors.New("file writer requires a render function")
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = DefaultOutDir
	}
	absDir, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory %q: %w", outDir, err)
	}
	outFile := opts.OutFile
	if outFile == nil {
		outFile = DefaultOutFile()
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = DefaultFileMode
	}
	return &Writer{outDir: absDir, outFile: outFile, render: opts.Render, mode: mode}, nil
}

// OutDir returns the absolute output directory.
func (w *Writer) OutDir() string {
	return w.outDir
}

// Write renders data and stores it atomically. It returns the absolute path written.
func (w *Writer) Write(ctx context.Context, data Data) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := w.render(ctx, data)
	if err != nil {
		return "", err
	}
	target, err := w.resolve(data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeAtomic(target, content, w.mode); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Debug("file written", "path", target, "bytes", len(content))
	return target, nil
}

func (w *Writer) resolve(data Data) (string, error) {
	name, err := w.outFile(data)
	if err != nil {
		return "", fmt.Errorf("failed to derive output path: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("output path is empty")
	}
	target := filepath.Join(w.outDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(w.outDir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path %q escapes output directory %s", name, w.outDir)
	}
	return target, nil
}

func writeAtomic(path, content string, mode os.FileMode) (err error) {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(mode))
	if err != nil {
		return fmt.Errorf("failed to create pending file for %s: %w", path, err)
	}
	defer func() {
		if cleanupErr := pending.Cleanup(); cleanupErr != nil && err == nil {
			err = fmt.Errorf("failed to clean up pending file: %w", cleanupErr)
		}
	}()
	if _, err := pending.WriteString(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
