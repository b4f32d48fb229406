package normalizer

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/compozy/tplwriter/pkg/lambda"
	"github.com/compozy/tplwriter/pkg/tplengine"
)

// functionMap converts a loaded value into named function entries. It
// accepts typed maps, or a mapping whose values are callables, inline
// functions, or [callable, options] pairs.
func functionMap(value any) (map[string]tplengine.FunctionEntry, error) {
	switch v := value.(type) {
	case map[string]tplengine.FunctionEntry:
		return v, nil
	case map[string]tplengine.Callable:
		out := make(map[string]tplengine.FunctionEntry, len(v))
		for name, fn := range v {
			out[name] = tplengine.Plain(fn)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]tplengine.FunctionEntry, len(v))
		for name, item := range v {
			entry, err := functionEntry(item)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", name, err)
			}
			out[name] = entry
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a function map, got %T", value)
	}
}

func functionEntry(value any) (tplengine.FunctionEntry, error) {
	switch v := value.(type) {
	case tplengine.FunctionEntry:
		if v.Fn == nil {
			return tplengine.FunctionEntry{}, errors.New("no callable")
		}
		return v, nil
	case []any:
		if len(v) != 2 {
			return tplengine.FunctionEntry{}, fmt.Errorf("expected a [function, options] pair, got %d elements", len(v))
		}
		fn, err := callable(v[0])
		if err != nil {
			return tplengine.FunctionEntry{}, err
		}
		opts, err := callableOptions(v[1])
		if err != nil {
			return tplengine.FunctionEntry{}, err
		}
		return tplengine.FunctionEntry{Fn: fn, Options: opts}, nil
	default:
		fn, err := callable(value)
		if err != nil {
			return tplengine.FunctionEntry{}, err
		}
		return tplengine.Plain(fn), nil
	}
}

func callableOptions(value any) (*tplengine.CallableOptions, error) {
	switch v := value.(type) {
	case tplengine.CallableOptions:
		return &v, nil
	case *tplengine.CallableOptions:
		if v == nil {
			return &tplengine.CallableOptions{}, nil
		}
		return v, nil
	default:
		return tplengine.DecodeCallableOptions(value)
	}
}

func callable(value any) (tplengine.Callable, error) {
	switch v := value.(type) {
	case nil:
		return nil, errors.New("value is not a function")
	case string:
		if !lambda.IsFunctionLike(v) {
			return nil, fmt.Errorf("%q is not a function", v)
		}
		fn, err := lambda.Parse(v)
		if err != nil {
			return nil, err
		}
		return fn.Callable(), nil
	case *lambda.Lambda:
		return v.Callable(), nil
	default:
		if reflect.TypeOf(value).Kind() != reflect.Func {
			return nil, fmt.Errorf("value of type %T is not a function", value)
		}
		return tplengine.Wrap(value)
	}
}

// advancedFunc converts a loaded value into an advanced hook.
func advancedFunc(value any) (tplengine.AdvancedFunc, error) {
	switch v := value.(type) {
	case tplengine.AdvancedFunc:
		return v, nil
	case func(*tplengine.Environment) error:
		return v, nil
	case func(*tplengine.Environment):
		return func(env *tplengine.Environment) error {
			v(env)
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("imported value is not a function, got %T", value)
	}
}
