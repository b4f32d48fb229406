package filewriter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/compozy/tplwriter/pkg/lambda"
	"github.com/compozy/tplwriter/pkg/logger"
)

// DefaultOutFile derives the output path from the document:
// output.path as is, then output.url + ".html", then header.path with its
// extension replaced by ".html", then unnamed-<n>.html. Each returned
// function carries its own counter.
func DefaultOutFile() OutFileFunc {
	var unnamed atomic.Int64
	return func(data Data) (string, error) {
		if p := lookupString(data, "output", "path"); p != "" {
			return p, nil
		}
		if u := lookupString(data, "output", "url"); u != "" {
			return u + ".html", nil
		}
		if p := lookupString(data, "header", "path"); p != "" {
			return strings.TrimSuffix(p, filepath.Ext(p)) + ".html", nil
		}
		return fmt.Sprintf("unnamed-%d.html", unnamed.Add(1)), nil
	}
}

func lookupString(data Data, keys ...string) string {
	var cur any = data
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

// OptionsFromParams reads outDir, outFile and fileMode from params. outFile
// must be an inline function. Keys it does not know are logged and ignored.
func OptionsFromParams(ctx context.Context, params map[string]any) (Options, error) {
	var opts Options
	log := logger.FromContext(ctx)
	for key, value := range params {
		known, err := ApplyParam(&opts, key, value)
		if err != nil {
			return Options{}, err
		}
		if !known {
			log.Debug("ignoring unknown file writer option", "option", key)
		}
	}
	return opts, nil
}

// ApplyParam sets the option named key on opts. known is false for keys
// the file writer does not use.
func ApplyParam(opts *Options, key string, value any) (known bool, err error) {
	switch key {
	case "outDir":
		s, ok := value.(string)
		if !ok {
			return true, fmt.Errorf("'outDir' option is invalid type, expected string, got %T", value)
		}
		opts.OutDir = s
	case "outFile":
		fn, err := parseOutFile(value)
		if err != nil {
			return true, err
		}
		opts.OutFile = fn
	case "fileMode":
		mode, err := parseFileMode(value)
		if err != nil {
			return true, err
		}
		opts.FileMode = mode
	default:
		return false, nil
	}
	return true, nil
}

func parseOutFile(value any) (OutFileFunc, error) {
	switch v := value.(type) {
	case OutFileFunc:
		return v, nil
	case func(Data) (string, error):
		return v, nil
	case string:
		if !lambda.IsFunctionLike(v) {
			return nil, fmt.Errorf("'outFile' option is not a function: %q", v)
		}
		fn, err := lambda.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("'outFile' option: %w", err)
		}
		return fn.StringFunc(), nil
	default:
		return nil, fmt.Errorf("'outFile' option is invalid type, expected function, got %T", value)
	}
}

func parseFileMode(value any) (os.FileMode, error) {
	switch v := value.(type) {
	case int:
		return os.FileMode(v), nil
	case os.FileMode:
		return v, nil
	case string:
		n, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("'fileMode' option %q is not an octal mode: %w", v, err)
		}
		return os.FileMode(n), nil
	default:
		return 0, fmt.Errorf("'fileMode' option is invalid type, expected octal string or integer, got %T", value)
	}
}
