package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire representation a peer uses for outbound
// envelopes (§4.B). The receive side always auto-detects regardless of
// this setting.
type Encoding int

const (
	// EncodingMessagePack is the default send encoding.
	EncodingMessagePack Encoding = iota
	EncodingJSON
)

func (e Encoding) String() string {
	if e == EncodingJSON {
		return "json"
	}
	return "messagepack"
}

// Codec encodes envelopes for the wire and decodes whatever a Transport
// hands back, auto-detecting JSON vs MessagePack.
type Codec struct{}

// NewCodec returns a ready-to-use Codec. A Codec carries no state — one
// instance may be shared across every Peer in a process.
func NewCodec() *Codec { return &Codec{} }

// Encode marshals env using enc, returning the wire payload: a string for
// JSON, raw bytes for MessagePack (matching how each encoding's native
// transports carry it — text frames vs binary frames).
func (c *Codec) Encode(env *Envelope, enc Encoding) (interface{}, error) {
	switch enc {
	case EncodingJSON:
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("rpc: encode json: %w", err)
		}
		return string(data), nil
	case EncodingMessagePack:
		data, err := msgpack.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("rpc: encode messagepack: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("rpc: unknown encoding %v", enc)
	}
}

// Decode accepts whatever a Transport's OnMessage callback delivered and
// returns the parsed Envelope. It accepts, in order of precedence:
//   - an already-structured *Envelope/Envelope (pass-through, for
//     transports that deliver parsed objects),
//   - a string: JSON if it begins with '{', MessagePack otherwise,
//   - a []byte: always MessagePack (binary payloads never carry JSON text
//     per §4.B).
func (c *Codec) Decode(payload interface{}) (*Envelope, error) {
	switch v := payload.(type) {
	case *Envelope:
		return v, nil
	case Envelope:
		e := v
		return &e, nil
	case string:
		if looksLikeJSON([]byte(v)) {
			return decodeJSON([]byte(v))
		}
		return decodeMsgpack([]byte(v))
	case []byte:
		return decodeMsgpack(v)
	default:
		return nil, fmt.Errorf("rpc: unsupported payload type %T", payload)
	}
}

func decodeJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("rpc: invalid JSON envelope: %w", err)
	}
	return &env, nil
}

func decodeMsgpack(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("rpc: invalid MessagePack envelope: %w", err)
	}
	return &env, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
