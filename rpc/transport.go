package rpc

// Transport abstracts the opaque message channel between two peers (§4.C).
// SendMessage and OnMessage are mandatory; ConnectNotifier, CloseNotifier
// and ErrorNotifier are optional capabilities a Peer type-asserts for. A
// transport that does not implement ConnectNotifier is, by construction,
// one with no connect signal — the Peer treats it as already open.
type Transport interface {
	// SendMessage transmits an already-encoded payload (string for JSON,
	// []byte for MessagePack) to the remote peer.
	SendMessage(payload interface{}) error

	// OnMessage registers the callback invoked for every inbound payload,
	// in arrival order. A Transport must deliver messages to this callback
	// one at a time, each call completing before the next begins (§5).
	OnMessage(cb func(payload interface{}))
}

// ConnectNotifier is implemented by transports that report when they
// become able to send.
type ConnectNotifier interface {
	OnConnect(cb func())
}

// CloseNotifier is implemented by transports that report teardown.
type CloseNotifier interface {
	OnClose(cb func())
}

// ErrorNotifier is implemented by transports that report non-fatal,
// channel-preserving failures.
type ErrorNotifier interface {
	OnError(cb func(err error))
}
