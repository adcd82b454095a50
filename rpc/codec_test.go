package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func idPtr(v uint64) *ID {
	id := ID(v)
	return &id
}

func TestCodecRoundTripJSON(t *testing.T) {
	codec := NewCodec()
	envs := []*Envelope{
		{JSONRPC: ProtocolVersion, ID: idPtr(1), Method: "Methods.bounce", Params: json.RawMessage(`[1,true,null]`)},
		{JSONRPC: ProtocolVersion, Method: "Methods.tick", Params: json.RawMessage(`{"n":1}`)},
		{JSONRPC: ProtocolVersion, ID: idPtr(2), Result: json.RawMessage(`{"ok":true}`)},
		{JSONRPC: ProtocolVersion, ID: idPtr(3), Error: &Error{Code: ErrCodeMethodNotFound, Message: "nope"}},
	}

	for _, env := range envs {
		wire, err := codec.Encode(env, EncodingJSON)
		require.NoError(t, err)
		require.IsType(t, "", wire)

		decoded, err := codec.Decode(wire)
		require.NoError(t, err)
		require.Equal(t, env.Method, decoded.Method)
		require.Equal(t, env.ID, decoded.ID)
		require.JSONEq(t, orNullJSON(env.Params), orNullJSON(decoded.Params))
		if env.Error != nil {
			require.Equal(t, env.Error.Code, decoded.Error.Code)
		}
	}
}

func TestCodecRoundTripMessagePack(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{JSONRPC: ProtocolVersion, ID: idPtr(7), Method: "Methods.receiveObject", Params: json.RawMessage(`{"x":42}`)}

	wire, err := codec.Encode(env, EncodingMessagePack)
	require.NoError(t, err)
	require.IsType(t, []byte{}, wire)

	decoded, err := codec.Decode(wire)
	require.NoError(t, err)
	require.Equal(t, env.Method, decoded.Method)
	require.Equal(t, *env.ID, *decoded.ID)
}

func TestCodecAutoDetectsEncoding(t *testing.T) {
	codec := NewCodec()

	jsonWire := `{"jsonrpc":"2.0","method":"a.b","params":[1]}`
	decoded, err := codec.Decode(jsonWire)
	require.NoError(t, err)
	require.Equal(t, "a.b", decoded.Method)

	msgpackWire, err := codec.Encode(&Envelope{JSONRPC: ProtocolVersion, Method: "a.b"}, EncodingMessagePack)
	require.NoError(t, err)
	decoded, err = codec.Decode(msgpackWire)
	require.NoError(t, err)
	require.Equal(t, "a.b", decoded.Method)
}

func TestCodecDecodePassthrough(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{JSONRPC: ProtocolVersion, Method: "a.b"}

	decoded, err := codec.Decode(env)
	require.NoError(t, err)
	require.Same(t, env, decoded)

	decoded, err = codec.Decode(*env)
	require.NoError(t, err)
	require.Equal(t, env.Method, decoded.Method)
}

func TestCodecDecodeRejectsMalformedJSON(t *testing.T) {
	codec := NewCodec()
	_, err := codec.Decode(`{"jsonrpc":`)
	require.Error(t, err)
}

func orNullJSON(raw json.RawMessage) string {
	if raw == nil {
		return "null"
	}
	return string(raw)
}
