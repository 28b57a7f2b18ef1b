package toolsurface

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeTestArgs(t *testing.T, raw string) args {
	t.Helper()
	a, err := decodeArgs(json.RawMessage(raw))
	require.NoError(t, err)
	return a
}

func TestIntCoercion(t *testing.T) {
	a := decodeTestArgs(t, `{"n": 5, "f": 5.0, "frac": 5.5, "s": "7", "junk": "many", "b": true}`)

	assert.Equal(t, 5, a.Int("n", 0))
	assert.Equal(t, 5, a.Int("f", 0), "whole-number floats coerce")
	assert.Equal(t, 0, a.Int("frac", 0), "fractional floats do not")
	assert.Equal(t, 7, a.Int("s", 0), "numeric strings coerce")
	assert.Equal(t, 0, a.Int("junk", 0), "unknown strings fall back")
	assert.Equal(t, 0, a.Int("b", 0), "booleans are left alone")
	assert.Equal(t, 42, a.Int("missing", 42))
}

func TestStringArrayCoercion(t *testing.T) {
	a := decodeTestArgs(t, `{
		"native": ["a", "b"],
		"encoded": "[\"x\", \"y\"]",
		"notarray": "\"just a string\"",
		"mixed": ["a", 2, "c"]
	}`)

	assert.Equal(t, []string{"a", "b"}, a.StringArray("native"))
	assert.Equal(t, []string{"x", "y"}, a.StringArray("encoded"), "JSON-string arrays unpack")
	assert.Nil(t, a.StringArray("notarray"), "non-array parses are rejected silently")
	assert.Equal(t, []string{"a", "c"}, a.StringArray("mixed"), "non-string elements are dropped")
	assert.Nil(t, a.StringArray("missing"))
}

func TestObjectArrayCoercion(t *testing.T) {
	a := decodeTestArgs(t, `{
		"native": [{"content": "x"}],
		"encoded": "[{\"content\": \"y\"}]"
	}`)

	native := a.objectArray("native")
	require.Len(t, native, 1)
	assert.Equal(t, "x", native[0]["content"])

	encoded := a.objectArray("encoded")
	require.Len(t, encoded, 1)
	assert.Equal(t, "y", encoded[0]["content"])
}

func TestFloatAndBool(t *testing.T) {
	a := decodeTestArgs(t, `{"f": 0.75, "s": "0.5", "b": true}`)

	assert.Equal(t, 0.75, a.Float("f", 0))
	assert.Equal(t, 0.5, a.Float("s", 0))
	assert.Equal(t, 1.0, a.Float("missing", 1.0))
	assert.True(t, a.Bool("b"))
	assert.False(t, a.Bool("missing"))
}

func TestDecodeArgsEmptyParams(t *testing.T) {
	a, err := decodeArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, a)
}
