package tplengine

import (
	"fmt"
	"html/template"
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"
)

// Callable is a function exposed to templates, either as a function or as a filter.
type Callable func(args ...any) (any, error)

// CallableOptions carries engine-specific flags for a registered callable.
type CallableOptions struct {
	// IsSafe lists the contexts in which the result needs no escaping ("html" or "all").
	IsSafe []string `mapstructure:"is_safe"`
	// PreEscape escapes string arguments for the named context before the call.
	PreEscape string `mapstructure:"pre_escape"`
}

func (o *CallableOptions) safeFor(context string) bool {
	if o == nil {
		return false
	}
	return slices.Contains(o.IsSafe, context) || slices.Contains(o.IsSafe, "all")
}

// FunctionEntry is a callable with optional engine options.
type FunctionEntry struct {
	Fn      Callable
	Options *CallableOptions
}

// Plain returns an entry without options.
func Plain(fn Callable) FunctionEntry {
	return FunctionEntry{Fn: fn}
}

// WithOptions returns an entry carrying opts.
func WithOptions(fn Callable, opts CallableOptions) FunctionEntry {
	return FunctionEntry{Fn: fn, Options: &opts}
}

// HasOptions reports whether the entry was declared with options.
func (e FunctionEntry) HasOptions() bool {
	return e.Options != nil
}

// DecodeCallableOptions converts a loosely typed mapping into CallableOptions.
func DecodeCallableOptions(raw any) (*CallableOptions, error) {
	if raw == nil {
		return &CallableOptions{}, nil
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("callable options must be a mapping, got %T", raw)
	}
	var opts CallableOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid callable options: %w", err)
	}
	return &opts, nil
}

// decorate applies the entry options around the callable.
func (e FunctionEntry) decorate() Callable {
	fn := e.Fn
	opts := e.Options
	if opts == nil {
		return fn
	}
	return func(args ...any) (any, error) {
		if opts.PreEscape == "html" {
			escaped := make([]any, len(args))
			for i, arg := range args {
				escaped[i] = preEscapeHTML(arg)
			}
			args = escaped
		}
		out, err := fn(args...)
		if err != nil {
			return nil, err
		}
		if opts.safeFor("html") {
			return markSafe(out), nil
		}
		return out, nil
	}
}

func preEscapeHTML(arg any) any {
	switch v := arg.(type) {
	case template.HTML:
		return v
	case string:
		return template.HTMLEscapeString(v)
	default:
		return arg
	}
}

func markSafe(v any) any {
	switch s := v.(type) {
	case string:
		return template.HTML(s)
	case fmt.Stringer:
		return template.HTML(s.String())
	default:
		return v
	}
}

// asFilter moves the piped value (last argument in Go templates) to the front.
func asFilter(fn Callable) Callable {
	return func(args ...any) (any, error) {
		if len(args) < 2 {
			return fn(args...)
		}
		rotated := make([]any, 0, len(args))
		rotated = append(rotated, args[len(args)-1])
		rotated = append(rotated, args[:len(args)-1]...)
		return fn(rotated...)
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Wrap adapts an arbitrary Go function into a Callable. The function must
// return a single value, or a value and an error.
func Wrap(fn any) (Callable, error) {
	if c, ok := fn.(Callable); ok {
		return c, nil
	}
	if c, ok := fn.(func(...any) (any, error)); ok {
		return c, nil
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("value of type %T is not a function", fn)
	}
	t := v.Type()
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("function %s must return one value or a value and an error", t)
	}
	return func(args ...any) (any, error) {
		in, err := convertArgs(t, args)
		if err != nil {
			return nil, err
		}
		out := v.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}, nil
}

func convertArgs(t reflect.Type, args []any) ([]reflect.Value, error) {
	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("wrong number of args: got %d want at least %d", len(args), fixed)
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("wrong number of args: got %d want %d", len(args), fixed)
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var target reflect.Type
		if i < fixed {
			target = t.In(i)
		} else {
			target = t.In(fixed).Elem()
		}
		val, err := convertArg(arg, target)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = val
	}
	return in, nil
}

func convertArg(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	if sameFamily(v.Kind(), target.Kind()) && v.Type().ConvertibleTo(target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), target)
}

func sameFamily(a, b reflect.Kind) bool {
	return family(a) != 0 && family(a) == family(b)
}

func family(k reflect.Kind) int {
	switch k {
	case reflect.String:
		return 1
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 2
	case reflect.Bool:
		return 3
	default:
		return 0
	}
}
