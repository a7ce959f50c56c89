package eval

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// functions builds the template function set bound to ctx. float, int,
// round and now shadow the expr builtins of the same name.
func (e *Engine) functions(ctx context.Context) []expr.Option {
	return []expr.Option{
		expr.DisableBuiltin("float"),
		expr.DisableBuiltin("int"),
		expr.DisableBuiltin("round"),
		expr.DisableBuiltin("now"),

		expr.Function("states", func(params ...any) (any, error) {
			id, err := stringArg("states", params, 0)
			if err != nil {
				return nil, err
			}
			st, found, err := e.State(ctx, id)
			if err != nil {
				return nil, err
			}
			if !found {
				return "unknown", nil
			}
			return st.State, nil
		}),
		expr.Function("is_state", func(params ...any) (any, error) {
			id, err := stringArg("is_state", params, 0)
			if err != nil {
				return nil, err
			}
			if len(params) != 2 {
				return nil, fmt.Errorf("is_state: expected 2 arguments, got %d", len(params))
			}
			st, found, err := e.State(ctx, id)
			if err != nil || !found {
				return false, err
			}
			switch want := params[1].(type) {
			case []any:
				for _, w := range want {
					if fmt.Sprint(w) == st.State {
						return true, nil
					}
				}
				return false, nil
			default:
				return fmt.Sprint(want) == st.State, nil
			}
		}),
		expr.Function("state_attr", func(params ...any) (any, error) {
			id, err := stringArg("state_attr", params, 0)
			if err != nil {
				return nil, err
			}
			attr, err := stringArg("state_attr", params, 1)
			if err != nil {
				return nil, err
			}
			st, found, err := e.State(ctx, id)
			if err != nil || !found {
				return nil, err
			}
			return st.Attributes[attr], nil
		}),
		expr.Function("has_value", func(params ...any) (any, error) {
			id, err := stringArg("has_value", params, 0)
			if err != nil {
				return nil, err
			}
			st, found, err := e.State(ctx, id)
			if err != nil || !found {
				return false, err
			}
			return st.State != "unavailable" && st.State != "unknown", nil
		}),
		expr.Function("now", func(params ...any) (any, error) {
			return e.now(), nil
		}),
		expr.Function("utcnow", func(params ...any) (any, error) {
			return e.now().UTC(), nil
		}),
		expr.Function("float", func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("float: missing argument")
			}
			f, err := toFloat(params[0])
			if err != nil {
				if len(params) > 1 {
					return toFloat(params[1])
				}
				return nil, err
			}
			return f, nil
		}),
		expr.Function("int", func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("int: missing argument")
			}
			f, err := toFloat(params[0])
			if err != nil {
				if len(params) > 1 {
					f, err = toFloat(params[1])
				}
				if err != nil {
					return nil, err
				}
			}
			return int(f), nil
		}),
		expr.Function("round", func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("round: missing argument")
			}
			f, err := toFloat(params[0])
			if err != nil {
				return nil, err
			}
			precision := 0
			if len(params) > 1 {
				p, err := toFloat(params[1])
				if err != nil {
					return nil, fmt.Errorf("round: precision: %w", err)
				}
				precision = int(p)
			}
			scale := math.Pow(10, float64(precision))
			return math.Round(f*scale) / scale, nil
		}),
	}
}

func stringArg(fn string, params []any, i int) (string, error) {
	if i >= len(params) {
		return "", fmt.Errorf("%s: missing argument %d", fn, i+1)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string, got %T", fn, i+1, params[i])
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to a number", v)
}
