// Package codec implements the wire envelope used for every RPC response:
// encoding a handler's result or error into a versioned `{version, result,
// body}` value, and decoding a reply back into either a plain value or a
// reconstructed *rpcerr.Error. Encoding/decoding runs through
// bytedance/sonic rather than encoding/json, matching the JSON engine the
// rest of the retrieved dependency pack reaches for.
package codec

import (
	"github.com/bytedance/sonic"
	xlog "go.bryk.io/pkg/log"

	"github.com/haandol/island/rpcerr"
)

// Version identifies the envelope schema currently produced by
// EncodeResult/EncodeError. UndecodableVersion marks a reply that failed to
// parse; see Decode.
const (
	Version            = 1
	UndecodableVersion = 0
)

// Envelope is the wire form of every RPC reply: `{version, result, body}`.
// `Body` holds the handler's result when Result is true, or an
// rpcerr.Shape when it is false.
type Envelope struct {
	Version int         `json:"version"`
	Result  bool        `json:"result"`
	Body    interface{} `json:"body,omitempty"`
}

// Reviver is a value transformer applied during text→value decoding, akin
// to the `reviver` parameter of JSON.parse in the original implementation.
// It is invoked once per object/array member (innermost first) and once
// for the decoded value as a whole, and may return a replacement value.
type Reviver func(key string, value interface{}) interface{}

// EncodeResult builds the success envelope for a handler's return value.
func EncodeResult(value interface{}) Envelope {
	return Envelope{Version: Version, Result: true, Body: value}
}

// EncodeError builds the failure envelope for an error raised by a
// handler. occurredIn stamps the originating service name onto the wire
// shape, as required by §4.1.
func EncodeError(err *rpcerr.Error, occurredIn string) Envelope {
	err.Occurred(occurredIn)
	return Envelope{Version: Version, Result: false, Body: err.ToShape()}
}

// MarshalValue serializes an arbitrary request body (not wrapped in an
// envelope) to UTF-8 JSON, used by invoke to build the outbound request.
func MarshalValue(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Marshal serializes an envelope to UTF-8 JSON. Per §4.1, encoding never
// fails the caller: unrepresentable values collapse to a best-effort
// textual form instead of propagating a marshal error.
func Marshal(env Envelope) []byte {
	data, err := sonic.Marshal(env)
	if err != nil {
		data, _ = sonic.Marshal(Envelope{
			Version: Version,
			Result:  true,
			Body:    err.Error(),
		})
	}
	return data
}

// Decode parses data as an envelope. A parse failure produces the
// degenerate `{version:0, result:false}` envelope and logs a notice
// rather than surfacing the raw unmarshal error, matching §4.1; callers
// recognize this case via env.Version == UndecodableVersion.
func Decode(data []byte, log xlog.Logger) Envelope {
	var raw map[string]interface{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		if log != nil {
			log.WithField("error", err.Error()).Warning("received an undecodable rpc envelope")
		}
		return Envelope{Version: UndecodableVersion, Result: false}
	}

	env := Envelope{Body: raw["body"]}
	if v, ok := raw["version"].(float64); ok {
		env.Version = int(v)
	}
	if v, ok := raw["result"].(bool); ok {
		env.Result = v
	}
	return env
}

// Revive applies reviver bottom-up over env.Body, mirroring the order
// JSON.parse invokes its reviver callback: nested members first, then the
// container itself. A nil reviver is a no-op.
func Revive(env Envelope, reviver Reviver) Envelope {
	if reviver == nil {
		return env
	}
	env.Body = reviveValue("", env.Body, reviver)
	return env
}

func reviveValue(key string, value interface{}, reviver Reviver) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			revived := reviveValue(k, child, reviver)
			if revived == nil {
				delete(v, k)
				continue
			}
			v[k] = revived
		}
		return reviver(key, v)
	case []interface{}:
		for i, child := range v {
			v[i] = reviveValue("", child, reviver)
		}
		return reviver(key, v)
	default:
		return reviver(key, v)
	}
}

// DecodeValue parses data as a bare JSON value (not a response envelope)
// and applies reviver, used to decode request bodies on the handler side
// (§4.4 step 4), since a request carries whatever the caller passed as-is.
func DecodeValue(data []byte, reviver Reviver) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if reviver != nil {
		v = reviveValue("", v, reviver)
	}
	return v, nil
}

// DecodeBody unmarshals env.Body into out, re-serializing through sonic.
// Use this to project the generic decoded body into a handler's expected
// request/response type.
func DecodeBody(env Envelope, out interface{}) error {
	raw, err := sonic.Marshal(env.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, out)
}

// DecodeError reconstructs the typed error carried by a failure envelope.
// Callers must only invoke this when env.Result is false.
func DecodeError(env Envelope) *rpcerr.Error {
	var shape rpcerr.Shape
	if err := DecodeBody(env, &shape); err != nil {
		return rpcerr.UndecodableReply("", err)
	}
	return rpcerr.FromShape(shape)
}
