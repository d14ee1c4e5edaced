package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingCommand struct{ Value string }

func (pingCommand) Key() string { return "test.ping" }

type otherCommand struct{}

func (otherCommand) Key() string { return "test.other" }

func TestDispatchTypedResult(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[pingCommand, string](bus, "test.ping", HandlerFunc[pingCommand, string](func(_ context.Context, cmd pingCommand) (string, error) {
		return "pong:" + cmd.Value, nil
	}))

	res, err := Dispatch[pingCommand, string](context.Background(), bus, pingCommand{Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, "pong:a", res)
	assert.Equal(t, []string{"test.ping"}, bus.Keys())
}

func TestDispatchUnknownKey(t *testing.T) {
	bus := NewInMemoryBus()
	_, err := bus.Dispatch(context.Background(), otherCommand{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestDispatchResultMismatch(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[pingCommand, string](bus, "test.ping", HandlerFunc[pingCommand, string](func(context.Context, pingCommand) (string, error) {
		return "x", nil
	}))
	_, err := Dispatch[pingCommand, int](context.Background(), bus, pingCommand{})
	assert.ErrorIs(t, err, ErrResultType)
}

func TestRegisterTwicePanics(t *testing.T) {
	bus := NewInMemoryBus()
	h := HandlerFunc[pingCommand, string](func(context.Context, pingCommand) (string, error) { return "", nil })
	RegisterHandler[pingCommand, string](bus, "test.ping", h)
	assert.Panics(t, func() { RegisterHandler[pingCommand, string](bus, "test.ping", h) })
}

func TestNilBus(t *testing.T) {
	_, err := Dispatch[pingCommand, string](context.Background(), nil, pingCommand{})
	assert.ErrorIs(t, err, ErrNilBus)
}
