package events

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cuemby/stackup/pkg/types"
)

func TestBrokerDeliversToEverySubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewBroker()
	broker.Start()

	a := broker.Subscribe()
	b := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:      EventNodeTransition,
		ServiceID: "postgres",
		From:      types.StateStarting,
		To:        types.StateAwaitingReady,
	})

	for _, sub := range []Subscriber{a, b} {
		select {
		case ev := <-sub:
			assert.Equal(t, "postgres", ev.ServiceID)
			assert.Equal(t, types.StateAwaitingReady, ev.To)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	broker.Stop()
	broker.Unsubscribe(a)
	broker.Unsubscribe(b)
}

func TestBrokerStopFlushesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewBroker()
	sub := broker.Subscribe()

	// Queue before the loop runs
	for i := 0; i < 3; i++ {
		broker.Publish(&Event{Type: EventNodeReady})
	}
	broker.Start()
	broker.Stop()

	require.Len(t, sub, 3)
	broker.Stop()
}

func TestSubscribeAllKeepsEveryEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewBroker()
	lossy := broker.Subscribe()
	all := broker.SubscribeAll()
	assert.Equal(t, 2, broker.SubscriberCount())
	broker.Start()

	// Nobody reads while the run publishes far more than one buffer
	const n = 500
	for i := 0; i < n; i++ {
		broker.Publish(&Event{Type: EventNodeTransition, Message: strconv.Itoa(i)})
	}
	broker.Stop()
	broker.Unsubscribe(lossy)
	broker.Unsubscribe(all)
	assert.Zero(t, broker.SubscriberCount())

	var got []string
	for ev := range all {
		got = append(got, ev.Message)
	}
	require.Len(t, got, n)
	for i, msg := range got {
		assert.Equal(t, strconv.Itoa(i), msg)
	}

	delivered := 0
	for range lossy {
		delivered++
	}
	assert.Less(t, delivered, n)
}

func TestSubscribeAllClosesWhenIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewBroker()
	sub := broker.SubscribeAll()
	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)

	select {
	case _, open := <-sub:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Zero(t, broker.SubscriberCount())
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventRunFinished})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
