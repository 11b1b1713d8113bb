package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewInMemory(4)
	msgs, err := bus.Consume(ctx)
	require.NoError(t, err)

	want := Message{Type: TypeDismissalUpdated, Body: []byte("Q1|Collected")}
	require.NoError(t, bus.Publish(ctx, want))

	select {
	case got := <-msgs:
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Body, got.Body)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	bus := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, bus.Publish(ctx, Message{Type: "x"}))
	cancel()
	// Buffer full and context gone: publish must return, not block.
	err := bus.Publish(ctx, Message{Type: "y"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeQueueClosed, Body: []byte("20260309-abcd1234")}
	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// Body may itself contain the frame separator.
	msg = Message{Type: TypeDismissalUpdated, Body: []byte("Q1|S1|InQueue")}
	got, err = deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}
