package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 3; i++ {
		_, err := b.Subscribe("session.connected", func(e Event) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(NewEvent("session.connected", "server", "abc")))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	b := New()
	first, second := errors.New("first"), errors.New("second")
	_, _ = b.Subscribe("x", func(Event) error { return first })
	_, _ = b.Subscribe("x", func(Event) error { return second })

	err := b.Publish(NewEvent("x", "test", nil))
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub, err := b.Subscribe("x", func(Event) error { calls++; return nil })
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	assert.False(t, sub.IsActive())
	assert.Zero(t, b.Subscribers("x"))

	require.NoError(t, b.Publish(NewEvent("x", "test", nil)))
	assert.Zero(t, calls)
}

func TestPublishAsync(t *testing.T) {
	b := New()
	fail := errors.New("fail")
	_, _ = b.Subscribe("x", func(Event) error { return fail })

	select {
	case err := <-b.PublishAsync(NewEvent("x", "test", nil)):
		assert.ErrorIs(t, err, fail)
	case <-time.After(time.Second):
		t.Fatal("async publish never completed")
	}
}

func TestEventCarriesData(t *testing.T) {
	e := NewEvent("session.spawned", "server", 42)
	assert.Equal(t, "session.spawned", e.Type())
	assert.Equal(t, "server", e.Source())
	assert.Equal(t, 42, e.Data())
	assert.WithinDuration(t, time.Now(), e.Timestamp(), time.Second)
}
