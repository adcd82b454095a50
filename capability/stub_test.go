package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telestoworld/telestoworld-rpc/rpc"
	"github.com/telestoworld/telestoworld-rpc/transport"
)

func connectedPeerPair(t *testing.T) (*rpc.Peer, *rpc.Peer) {
	t.Helper()
	pa, pb := transport.NewMemoryPair(nil)
	a := rpc.NewPeer(pa, rpc.WithSendEncoding(rpc.EncodingJSON))
	b := rpc.NewPeer(pb, rpc.WithSendEncoding(rpc.EncodingJSON))
	pa.Connect()
	return a, b
}

func TestStubCallIssuesWirePrefixedMethod(t *testing.T) {
	host, script := connectedPeerPair(t)
	var gotMethod string
	host.HandleCall("TicTacToeBoard.choose", func(params json.RawMessage) (interface{}, error) {
		gotMethod = "TicTacToeBoard.choose"
		return "ok", nil
	})

	stub := NewStub(script, "TicTacToeBoard")
	result, err := stub.Call(context.Background(), "choose", "X", 1)
	require.NoError(t, err)
	require.Equal(t, `"ok"`, string(result))
	require.Equal(t, "TicTacToeBoard.choose", gotMethod)
}

func TestStubOnSubscribesUsingPluginDotEventConvention(t *testing.T) {
	host, script := connectedPeerPair(t)
	stub := NewStub(script, "TicTacToeBoard")

	var gotArg interface{}
	require.NoError(t, stub.On("onChooseSymbol", func(args ...interface{}) {
		if len(args) > 0 {
			gotArg = args[0]
		}
	}))

	require.NoError(t, host.Notify("TicTacToeBoard.ChooseSymbol", []interface{}{"X"}))
	require.Equal(t, []interface{}{"X"}, gotArg)
}

func TestStubOnRejectsNonEventProperty(t *testing.T) {
	_, script := connectedPeerPair(t)
	stub := NewStub(script, "Methods")
	err := stub.On("bounce", func(args ...interface{}) {})
	require.Error(t, err)
}

func TestNewStubPanicsOnEmptyPluginName(t *testing.T) {
	_, script := connectedPeerPair(t)
	require.PanicsWithError(t, ErrInvalidPluginName.Error(), func() {
		NewStub(script, "")
	})
}

func TestFactoryMemoizesStubs(t *testing.T) {
	_, script := connectedPeerPair(t)
	f := NewFactory(script)

	a := f.Stub("Methods")
	b := f.Stub("Methods")
	require.Same(t, a, b)
}
