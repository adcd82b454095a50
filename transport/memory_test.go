package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPairDeliversBothDirections(t *testing.T) {
	a, b := NewMemoryPair(nil)

	var gotOnB, gotOnA interface{}
	b.OnMessage(func(p interface{}) { gotOnB = p })
	a.OnMessage(func(p interface{}) { gotOnA = p })

	require.NoError(t, a.SendMessage("hello"))
	require.Equal(t, "hello", gotOnB)

	require.NoError(t, b.SendMessage("world"))
	require.Equal(t, "world", gotOnA)
}

func TestMemoryConnectFiresBothSides(t *testing.T) {
	a, b := NewMemoryPair(nil)

	var aConnected, bConnected bool
	a.OnConnect(func() { aConnected = true })
	b.OnConnect(func() { bConnected = true })

	a.Connect()

	require.True(t, aConnected)
	require.True(t, bConnected)
}

func TestMemorySendAfterCloseFails(t *testing.T) {
	a, _ := NewMemoryPair(nil)
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.SendMessage("x"), ErrClosed)
}

func TestMemoryCloseIsIdempotent(t *testing.T) {
	a, _ := NewMemoryPair(nil)
	closedCount := 0
	a.OnClose(func() { closedCount++ })

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.Equal(t, 1, closedCount)
}

func TestMemoryDropsMessageWithNoOnMessageHandler(t *testing.T) {
	a, _ := NewMemoryPair(nil)
	require.NoError(t, a.SendMessage("nobody listening"))
}
