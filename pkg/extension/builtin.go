package extension

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/compozy/tplwriter/pkg/tplengine"
)

const (
	// StdModule exports general purpose filters.
	StdModule = "std"
	// StrictModule exports an advanced hook that fails on missing keys.
	StrictModule = "std/strict"

	moreMarker     = "<!-- more -->"
	wordsPerMinute = 200
)

// RegisterBuiltins adds the bundled modules to r.
func RegisterBuiltins(r *Registry) error {
	std := &Module{Exports: map[string]any{
		"filters": map[string]tplengine.FunctionEntry{
			"excerpt":      tplengine.WithOptions(excerpt, tplengine.CallableOptions{IsSafe: []string{"html"}}),
			"reading_time": tplengine.Plain(readingTime),
		},
	}}
	strict := &Module{Exports: map[string]any{
		"default": tplengine.AdvancedFunc(func(env *tplengine.Environment) error {
			return env.Option("missingkey=error")
		}),
	}}
	return errors.Join(r.Register(StdModule, std), r.Register(StrictModule, strict))
}

// excerpt returns the text before the "<!-- more -->" marker, or the whole text.
func excerpt(args ...any) (any, error) {
	s, err := stringArg("excerpt", args)
	if err != nil {
		return nil, err
	}
	if before, _, found := strings.Cut(s, moreMarker); found {
		return strings.TrimSpace(before), nil
	}
	return s, nil
}

// readingTime estimates minutes to read, never less than one.
func readingTime(args ...any) (any, error) {
	s, err := stringArg("reading_time", args)
	if err != nil {
		return nil, err
	}
	words := len(strings.FieldsFunc(s, unicode.IsSpace))
	return max(1, int(math.Ceil(float64(words)/wordsPerMinute))), nil
}

func stringArg(name string, args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%s: missing argument", name)
	}
	switch v := args[0].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}
