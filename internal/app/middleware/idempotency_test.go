package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/commands"
	"staybook/internal/app/middleware"
	"staybook/internal/infra/storage/memory"
	"staybook/internal/pkg/apperror"
)

type receipt struct {
	ID string `json:"id"`
}

type payCommand struct {
	key    string
	payer  string
	amount string
}

func (c payCommand) Key() string                    { return "test.pay" }
func (c payCommand) IdempotencyKey() string         { return c.key }
func (c payCommand) ResultPrototype() any           { return &receipt{} }
func (c payCommand) IdempotencyScope() string       { return c.payer }
func (c payCommand) IdempotencyFingerprint() string { return c.amount }

type otherCommand struct{ key string }

func (c otherCommand) Key() string            { return "test.other" }
func (c otherCommand) IdempotencyKey() string { return c.key }
func (c otherCommand) ResultPrototype() any   { return &receipt{} }

var errBusy = errors.New("busy")

type testBus struct {
	bus   commands.Bus
	store *memory.IdempotencyStore
	mu    sync.Mutex
	calls int
}

func (b *testBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newBus(t *testing.T, handler func(context.Context, payCommand) (*receipt, error)) *testBus {
	t.Helper()
	tb := &testBus{store: memory.NewIdempotencyStore(time.Hour)}
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler[payCommand, *receipt](bus, "test.pay", commands.HandlerFunc[payCommand, *receipt](
		func(ctx context.Context, cmd payCommand) (*receipt, error) {
			tb.mu.Lock()
			tb.calls++
			tb.mu.Unlock()
			return handler(ctx, cmd)
		}))
	commands.RegisterHandler[otherCommand, *receipt](bus, "test.other", commands.HandlerFunc[otherCommand, *receipt](
		func(context.Context, otherCommand) (*receipt, error) {
			tb.mu.Lock()
			tb.calls++
			tb.mu.Unlock()
			return &receipt{ID: "other"}, nil
		}))
	tb.bus = middleware.ChainCommands(bus, middleware.Idempotency(tb.store, middleware.IdempotencyOptions{
		Transient:       func(err error) bool { return errors.Is(err, errBusy) },
		InFlightTimeout: time.Minute,
	}))
	return tb
}

func pay(key string) payCommand {
	return payCommand{key: key, payer: "ana", amount: "100"}
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	n := 0
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) {
		n++
		return &receipt{ID: "r" + string(rune('0'+n))}, nil
	})
	ctx := context.Background()

	first, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k1"))
	require.NoError(t, err)
	second, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, tb.count())

	_, err = commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k2"))
	require.NoError(t, err)
	assert.Equal(t, 2, tb.count())
}

func TestIdempotencyReplaysFinalErrorWithStatus(t *testing.T) {
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) {
		return nil, apperror.New(http.StatusConflict, "the selected dates are not available")
	})
	ctx := context.Background()

	_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	require.Error(t, err)
	_, err = commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, "the selected dates are not available", appErr.Message)
	assert.Equal(t, 1, tb.count())
}

func TestIdempotencySkipsTransientErrors(t *testing.T) {
	fail := true
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) {
		if fail {
			return nil, errBusy
		}
		return &receipt{ID: "ok"}, nil
	})
	ctx := context.Background()

	_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	assert.ErrorIs(t, err, errBusy)

	fail = false
	res, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.ID)
	assert.Equal(t, 2, tb.count())
}

func TestIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	tb := newBus(t, func(_ context.Context, cmd payCommand) (*receipt, error) {
		return &receipt{ID: "for-" + cmd.payer}, nil
	})
	ctx := context.Background()

	ana, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, payCommand{key: "shared", payer: "ana", amount: "100"})
	require.NoError(t, err)
	jonas, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, payCommand{key: "shared", payer: "jonas", amount: "100"})
	require.NoError(t, err)

	assert.Equal(t, "for-ana", ana.ID)
	assert.Equal(t, "for-jonas", jonas.ID)
	assert.Equal(t, 2, tb.count())
}

func TestIdempotencyRejectsKeyReuseWithDifferentContents(t *testing.T) {
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) { return &receipt{ID: "p"}, nil })
	ctx := context.Background()

	_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, payCommand{key: "k", payer: "ana", amount: "100"})
	require.NoError(t, err)
	_, err = commands.Dispatch[payCommand, *receipt](ctx, tb.bus, payCommand{key: "k", payer: "ana", amount: "900"})

	assert.ErrorIs(t, err, middleware.ErrKeyReused)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Code)
	assert.Equal(t, 1, tb.count())
}

func TestIdempotencyKeysAreScopedPerCommand(t *testing.T) {
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) { return &receipt{ID: "p"}, nil })
	ctx := context.Background()

	_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("shared"))
	require.NoError(t, err)
	res, err := commands.Dispatch[otherCommand, *receipt](ctx, tb.bus, otherCommand{key: "shared"})
	require.NoError(t, err)
	assert.Equal(t, "other", res.ID)
	assert.Equal(t, 2, tb.count())
}

func TestIdempotencyConcurrentDuplicateKeepsFirstOutcome(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) {
		close(entered)
		<-unblock
		return &receipt{ID: "committed"}, nil
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
		done <- err
	}()
	<-entered

	_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	assert.ErrorIs(t, err, middleware.ErrKeyInFlight)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusConflict, appErr.Code)

	close(unblock)
	require.NoError(t, <-done)

	res, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	require.NoError(t, err)
	assert.Equal(t, "committed", res.ID)
	assert.Equal(t, 1, tb.count())
}

func TestIdempotencyTakesOverAbandonedReservation(t *testing.T) {
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) { return &receipt{ID: "fresh"}, nil })
	ctx := context.Background()

	_, found, err := tb.store.Reserve(ctx, middleware.IdempotencyRecord{
		Key: "ana:test.pay:k", Command: "test.pay", Token: "crashed", Pending: true,
		OccurredAt: time.Now().Add(-10 * time.Minute),
	})
	require.NoError(t, err)
	require.False(t, found)

	res, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, pay("k"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.ID)
	assert.Equal(t, 1, tb.count())
}

func TestIdempotencyWithoutKeyAlwaysRuns(t *testing.T) {
	tb := newBus(t, func(context.Context, payCommand) (*receipt, error) { return &receipt{ID: "x"}, nil })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := commands.Dispatch[payCommand, *receipt](ctx, tb.bus, payCommand{payer: "ana"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tb.count())
}
