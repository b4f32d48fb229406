// Package lambda compiles small inline functions written in configuration
// files, such as `d => d.output.path + '.html'`, into Go callables.
//
// The function body is a CEL expression. Parameters are bound as dynamic
// variables; the body has no access to the host program and its evaluation
// cost is bounded.
package lambda

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/compozy/tplwriter/pkg/tplengine"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// DefaultCostLimit bounds the evaluation cost of a single call.
const DefaultCostLimit = 1_000_000

var (
	// ErrGenerator is returned for generator functions, which have no expression form.
	ErrGenerator = errors.New("generator functions are not supported")

	functionLike = regexp.MustCompile(
		`^\s*(?:async)?\s*(?:\([a-zA-Z0-9_, ]*\)\s*=>|[a-zA-Z0-9_,]+\s*=>|function\s*\*?\s*[a-zA-Z0-9_,]*\s*\([a-zA-Z0-9_, ]*\)\s*\{)`,
	)
	arrowForm = regexp.MustCompile(
		`(?s)^\s*(?:async\s*)?(?:\(([a-zA-Z0-9_, ]*)\)|([a-zA-Z0-9_]+))\s*=>\s*(.*?)\s*;?\s*$`,
	)
	functionForm = regexp.MustCompile(
		`(?s)^\s*(?:async\s*)?function\s*(\*?)\s*[a-zA-Z0-9_]*\s*\(([a-zA-Z0-9_, ]*)\)\s*\{(.*)\}\s*;?\s*$`,
	)
	returnBlock = regexp.MustCompile(`(?s)^\s*return\s+(.*?)\s*;?\s*$`)
	identifier  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// IsFunctionLike reports whether s looks like a function literal.
func IsFunctionLike(s string) bool {
	return functionLike.MatchString(s)
}

// Lambda is a compiled inline function. It is safe for concurrent use.
type Lambda struct {
	source string
	params []string
	prg    cel.Program
}

// Parse compiles s. It fails when s is not function-like or its body does not compile.
func Parse(s string) (*Lambda, error) {
	if !IsFunctionLike(s) {
		return nil, fmt.Errorf("%q is not a function literal", s)
	}
	params, body, err := split(s)
	if err != nil {
		return nil, err
	}
	opts := []cel.EnvOption{ext.Strings(), ext.Lists(), ext.Math()}
	for _, p := range params {
		opts = append(opts, cel.Variable(p, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	ast, issues := env.Compile(body)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile function %q: %w", s, issues.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(DefaultCostLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to compile function %q: %w", s, err)
	}
	return &Lambda{source: s, params: params, prg: prg}, nil
}

func split(s string) ([]string, string, error) {
	if m := functionForm.FindStringSubmatch(s); m != nil {
		if m[1] == "*" {
			return nil, "", ErrGenerator
		}
		params, err := parseParams(m[2])
		if err != nil {
			return nil, "", err
		}
		body, err := unwrapReturn(m[3])
		return params, body, err
	}
	m := arrowForm.FindStringSubmatch(s)
	if m == nil {
		return nil, "", fmt.Errorf("unsupported function syntax: %q", s)
	}
	raw := m[1]
	if m[2] != "" {
		raw = m[2]
	}
	params, err := parseParams(raw)
	if err != nil {
		return nil, "", err
	}
	body := m[3]
	if strings.HasPrefix(body, "{") && strings.HasSuffix(body, "}") {
		if body, err = unwrapReturn(body[1 : len(body)-1]); err != nil {
			return nil, "", err
		}
	}
	if body == "" {
		return nil, "", errors.New("function body is empty")
	}
	return params, body, nil
}

func unwrapReturn(block string) (string, error) {
	m := returnBlock.FindStringSubmatch(block)
	if m == nil {
		return "", fmt.Errorf("function body must be a single return statement: %q", strings.TrimSpace(block))
	}
	return m[1], nil
}

func parseParams(raw string) ([]string, error) {
	var params []string
	for p := range strings.SplitSeq(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !identifier.MatchString(p) {
			return nil, fmt.Errorf("invalid parameter name %q", p)
		}
		params = append(params, p)
	}
	return params, nil
}

// String returns the source text.
func (l *Lambda) String() string {
	return l.source
}

// Params returns the declared parameter names.
func (l *Lambda) Params() []string {
	return append([]string(nil), l.params...)
}

// Call evaluates the body. Missing arguments are null; extra arguments are ignored.
func (l *Lambda) Call(args ...any) (any, error) {
	vars := make(map[string]any, len(l.params))
	for i, p := range l.params {
		if i < len(args) {
			vars[p] = plain(args[i])
		} else {
			vars[p] = types.NullValue
		}
	}
	out, _, err := l.prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", l.source, err)
	}
	return native(out)
}

// Callable adapts the lambda for registration as a template function or filter.
func (l *Lambda) Callable() tplengine.Callable {
	return l.Call
}

// StringFunc adapts the lambda to a function of one document returning a string.
func (l *Lambda) StringFunc() func(map[string]any) (string, error) {
	return func(data map[string]any) (string, error) {
		out, err := l.Call(data)
		if err != nil {
			return "", err
		}
		s, ok := out.(string)
		if !ok {
			return "", fmt.Errorf("function %q returned %T, expected string", l.source, out)
		}
		return s, nil
	}
}

// plain unwraps named string types such as template.HTML which the
// expression runtime does not know about.
func plain(v any) any {
	if v == nil {
		return types.NullValue
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String && rv.Type() != reflect.TypeFor[string]() {
		return rv.String()
	}
	return v
}

func native(v ref.Val) (any, error) {
	if types.IsError(v) {
		if err, ok := v.Value().(error); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%v", v.Value())
	}
	switch val := v.(type) {
	case types.Null:
		return nil, nil
	case traits.Mapper:
		out := make(map[string]any)
		it := val.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			item, err := native(val.Get(key))
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key.Value())] = item
		}
		return out, nil
	case traits.Lister:
		size, ok := val.Size().(types.Int)
		if !ok {
			return nil, errors.New("list has no size")
		}
		out := make([]any, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			item, err := native(val.Get(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	default:
		return v.Value(), nil
	}
}
