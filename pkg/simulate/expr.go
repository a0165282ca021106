package simulate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// evalTimeout bounds a single conditional.
const evalTimeout = time.Second

var (
	// ErrSyntax is returned for an expression that does not parse as JavaScript.
	ErrSyntax = errors.New("invalid expression")
	// ErrEval is returned when a parsed expression fails while running.
	ErrEval = errors.New("expression failed")
)

// Eval runs a Mandrill-style conditional such as
// "accounts.length === 1 && plan != 'free'" as JavaScript, with every key of
// data bound as a global, and reports whether the result is truthy.
func Eval(expr string, data any) (bool, error) {
	prog, err := goja.Compile("", expr, false)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	vm := goja.New()
	if fields, ok := plain(data).(map[string]any); ok {
		for k, v := range fields {
			if err := vm.Set(k, v); err != nil {
				return false, fmt.Errorf("%w: bind %s: %v", ErrEval, k, err)
			}
		}
	}

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	v, err := vm.RunProgram(prog)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrEval, expr, err)
	}
	return v.ToBoolean(), nil
}

// plain converts JSON numbers to float64 so they compare as JavaScript
// numbers.
func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
