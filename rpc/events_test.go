package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherInvokesInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []int
	d.On("tick", func(args ...interface{}) { order = append(order, 1) })
	d.On("tick", func(args ...interface{}) { order = append(order, 2) })
	d.On("tick", func(args ...interface{}) { order = append(order, 3) })

	d.Emit("tick")

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatcherOffRemovesHandler(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	h := func(args ...interface{}) { calls++ }

	d.On("tick", h)
	d.Off("tick", h)
	d.Emit("tick")

	require.Equal(t, 0, calls)
}

func TestDispatcherOnceFiresOnlyOnce(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.Once("tick", func(args ...interface{}) { calls++ })

	d.Emit("tick")
	d.Emit("tick")

	require.Equal(t, 1, calls)
}

func TestDispatcherPanicIsSwallowedAndReported(t *testing.T) {
	d := NewDispatcher()
	var afterRan bool
	var reportedErr error

	d.On("tick", func(args ...interface{}) { panic("boom") })
	d.On("tick", func(args ...interface{}) { afterRan = true })
	d.On("error", func(args ...interface{}) {
		if len(args) > 0 {
			reportedErr, _ = args[0].(error)
		}
	})

	require.NotPanics(t, func() { d.Emit("tick") })
	require.True(t, afterRan)
	require.Error(t, reportedErr)
}

func TestDispatcherErrorHandlerPanicDoesNotRecurse(t *testing.T) {
	d := NewDispatcher()
	errorHandlerCalls := 0
	d.On("error", func(args ...interface{}) {
		errorHandlerCalls++
		panic("error handler itself panics")
	})

	require.NotPanics(t, func() { d.Emit("error", nil) })
	require.Equal(t, 1, errorHandlerCalls)
}
