package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haandol/island/rpcerr"
)

func TestEncodeDecodeResultRoundTrip(t *testing.T) {
	env := EncodeResult(map[string]interface{}{"a": float64(1)})
	data := Marshal(env)

	decoded := Decode(data, nil)
	assert.Equal(t, Version, decoded.Version)
	assert.True(t, decoded.Result)

	var out map[string]interface{}
	assert.NoError(t, DecodeBody(decoded, &out))
	assert.Equal(t, float64(1), out["a"])
}

func TestEncodeDecodeErrorRoundTrip(t *testing.T) {
	err := rpcerr.WrongParameterSchema("validate", nil)
	env := EncodeError(err, "caller-island")
	data := Marshal(env)

	decoded := Decode(data, nil)
	assert.False(t, decoded.Result)

	reconstructed := DecodeError(decoded)
	assert.Equal(t, rpcerr.Logic, reconstructed.Kind)
	assert.Equal(t, rpcerr.KeyWrongParameterSchema, reconstructed.Key)
	assert.Equal(t, "caller-island", reconstructed.OccurredIn)
}

func TestDecodeUndecodablePayload(t *testing.T) {
	decoded := Decode([]byte("not json"), nil)
	assert.Equal(t, UndecodableVersion, decoded.Version)
	assert.False(t, decoded.Result)
}

func TestReviveTransformsBody(t *testing.T) {
	env := EncodeResult(map[string]interface{}{"n": float64(1)})
	data := Marshal(env)
	decoded := Decode(data, nil)

	reviver := func(key string, value interface{}) interface{} {
		if key == "n" {
			if f, ok := value.(float64); ok {
				return f + 1
			}
		}
		return value
	}
	revived := Revive(decoded, reviver)
	m := revived.Body.(map[string]interface{})
	assert.Equal(t, float64(2), m["n"])
}

func TestDecodeValueAppliesReviver(t *testing.T) {
	data, err := MarshalValue(map[string]interface{}{"n": 1})
	assert.NoError(t, err)

	reviver := func(key string, value interface{}) interface{} {
		if key == "n" {
			if f, ok := value.(float64); ok {
				return f * 10
			}
		}
		return value
	}
	v, err := DecodeValue(data, reviver)
	assert.NoError(t, err)
	m := v.(map[string]interface{})
	assert.Equal(t, float64(10), m["n"])
}
