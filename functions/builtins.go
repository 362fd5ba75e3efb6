// Package functions holds the built-in sample functions. Each one exists as
// a native handler (registered by RegisterBuiltins) and as python/node
// scripts in this directory for the container runtimes.
package functions

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// RegisterBuiltins registers every sample function as a native handler
func RegisterBuiltins(r *sandbox.Registry) {
	r.Register("sample_sum", Sum)
	r.Register("sample_length", Length)
	r.Register("sample_reverse", Reverse)
	r.Register("sample_power", Power)
	r.Register("sample_upper", Upper)
	r.Register("sample_sleep", Sleep)
	r.Register("sample_multiply", Multiply)
	r.Register("sample_divide", Divide)
}

// Sum adds payload.numbers
func Sum(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	raw, ok := payload["numbers"]
	if !ok {
		return 0.0, nil
	}
	numbers, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("numbers must be a list")
	}

	total := 0.0
	for i, n := range numbers {
		f, ok := n.(float64)
		if !ok {
			return nil, errors.Newf("numbers[%d] is not a number", i)
		}
		total += f
	}
	return total, nil
}

// Length counts the items of payload.data (list, string or object)
func Length(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	switch data := payload["data"].(type) {
	case nil:
		return 0, nil
	case []interface{}:
		return len(data), nil
	case string:
		return utf8.RuneCountInString(data), nil
	case map[string]interface{}:
		return len(data), nil
	default:
		return nil, errors.New("data has no length")
	}
}

// Reverse reverses payload.text
func Reverse(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	text, err := stringField(payload, "text")
	if err != nil {
		return nil, err
	}
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

// Upper upper-cases payload.text
func Upper(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	text, err := stringField(payload, "text")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(text), nil
}

// Power raises payload.base (default 0) to payload.exp (default 1)
func Power(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	base, err := numberField(payload, "base", 0)
	if err != nil {
		return nil, err
	}
	exp, err := numberField(payload, "exp", 1)
	if err != nil {
		return nil, err
	}
	return math.Pow(base, exp), nil
}

// Multiply returns payload.a * payload.b (both default 0)
func Multiply(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	a, err := numberField(payload, "a", 0)
	if err != nil {
		return nil, err
	}
	b, err := numberField(payload, "b", 0)
	if err != nil {
		return nil, err
	}
	return a * b, nil
}

// Divide returns payload.a / payload.b (defaults 0 and 1). Division by
// zero is a successful run whose result is an error string.
func Divide(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	a, err := numberField(payload, "a", 0)
	if err != nil {
		return nil, err
	}
	b, err := numberField(payload, "b", 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return "Error: divide by zero", nil
	}
	return a / b, nil
}

// Sleep waits payload.seconds (default 1) and returns "done"
func Sleep(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	seconds, err := numberField(payload, "seconds", 1)
	if err != nil {
		return nil, err
	}
	if seconds < 0 {
		return nil, errors.New("seconds must be a non-negative number")
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func stringField(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf("%s must be a string", key)
	}
	return s, nil
}

func numberField(payload map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Newf("%s must be a number", key)
	}
	return f, nil
}
