package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/fnpulse/errors"
)

func TestParseRuntime(t *testing.T) {
	tests := []struct {
		in      string
		want    Runtime
		wantErr bool
	}{
		{"", RuntimePython, false},
		{"python", RuntimePython, false},
		{"Node", RuntimeNode, false},
		{" native ", RuntimeNative, false},
		{"ruby", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRuntime(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.True(t, errors.IsInvalidRequestError(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestDefaultFilename(t *testing.T) {
	assert.Equal(t, "sample_sum.py", DefaultFilename("sample_sum", RuntimePython))
	assert.Equal(t, "sample_sum.js", DefaultFilename("sample_sum", RuntimeNode))
	assert.Equal(t, "sample_sum", DefaultFilename("sample_sum", RuntimeNative))
}

func TestNativeName(t *testing.T) {
	assert.Equal(t, "sample_sum", NativeName("sample_sum"))
	assert.Equal(t, "sample_sum", NativeName("sample_sum.py"))
	assert.Equal(t, "sample_sum", NativeName("nested/sample_sum.js"))
}

func TestCost(t *testing.T) {
	assert.Equal(t, 0.01, Cost(0))
	assert.Equal(t, 0.06, Cost(1))
	assert.Equal(t, 0.0162, Cost(0.123456))
	assert.Equal(t, 15.01, Cost(300))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, payload map[string]interface{}) (interface{}, error) { return nil, nil }

	r.Register("b", noop)
	r.Register("a", noop)

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	assert.Panics(t, func() { r.Register("a", noop) })
}
