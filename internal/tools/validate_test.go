package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiledWeather(t *testing.T) *Tool {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(weatherDescriptor(), noop))
	tool, err := reg.Lookup("get_weather")
	require.NoError(t, err)
	return tool
}

func argumentError(t *testing.T, err error) *ArgumentError {
	t.Helper()
	var argErr *ArgumentError
	require.True(t, errors.As(err, &argErr), "expected ArgumentError, got %v", err)
	return argErr
}

func TestValidateAcceptsValidArguments(t *testing.T) {
	tool := compiledWeather(t)
	assert.NoError(t, tool.Validate(json.RawMessage(`{"city":"London","units":"imperial","days":3}`)))
}

func TestValidateMissingRequired(t *testing.T) {
	tool := compiledWeather(t)
	for _, args := range []string{``, `null`, `{}`} {
		argErr := argumentError(t, tool.Validate(json.RawMessage(args)))
		assert.Equal(t, "missing required argument 'city'", argErr.Error())
		assert.Equal(t, []string{"city"}, argErr.FieldNames())
	}
}

func TestValidateWrongType(t *testing.T) {
	tool := compiledWeather(t)
	argErr := argumentError(t, tool.Validate(json.RawMessage(`{"city":42}`)))
	assert.Equal(t, []string{"city"}, argErr.FieldNames())
	assert.Contains(t, argErr.Error(), "argument 'city' must be string")
}

func TestValidateBoundsAndEnum(t *testing.T) {
	tool := compiledWeather(t)
	argErr := argumentError(t, tool.Validate(json.RawMessage(`{"city":"Paris","units":"rankine","days":30}`)))
	assert.ElementsMatch(t, []string{"days", "units"}, argErr.FieldNames())
	assert.Contains(t, argErr.Error(), "argument 'days' is invalid")
	assert.Contains(t, argErr.Error(), "argument 'units' is invalid")
}

func TestValidateIntegerRejectsFraction(t *testing.T) {
	tool := compiledWeather(t)
	argErr := argumentError(t, tool.Validate(json.RawMessage(`{"city":"Paris","days":2.5}`)))
	assert.Equal(t, []string{"days"}, argErr.FieldNames())
}

func TestValidateUnexpectedArgument(t *testing.T) {
	tool := compiledWeather(t)
	argErr := argumentError(t, tool.Validate(json.RawMessage(`{"city":"Paris","colour":"blue"}`)))
	assert.Equal(t, "unexpected argument 'colour'", argErr.Error())
}

func TestValidateNonObject(t *testing.T) {
	tool := compiledWeather(t)
	argErr := argumentError(t, tool.Validate(json.RawMessage(`["Paris"]`)))
	assert.Equal(t, "arguments must be an object", argErr.Error())
}

func TestDecodeArgs(t *testing.T) {
	var args struct {
		City string `json:"city"`
	}
	require.NoError(t, DecodeArgs(json.RawMessage(`{"city":"Tokyo"}`), &args))
	assert.Equal(t, "Tokyo", args.City)

	var empty struct{ City string }
	require.NoError(t, DecodeArgs(nil, &empty))
	assert.Empty(t, empty.City)

	var sum struct {
		A int64 `json:"a"`
	}
	err := DecodeArgs(json.RawMessage(`{"a":1e30}`), &sum)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, []string{"a"}, argErr.FieldNames())
	assert.Contains(t, argErr.Error(), "argument 'a' is out of range")
}
