package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOne(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

func TestLocalBusPublishReachesAllSubscribers(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	ch1, cancel1, err := b.Subscribe(ctx, "replies")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe(ctx, "replies")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish(ctx, "replies", []byte("hola")))

	assert.Equal(t, []byte("hola"), receiveOne(t, ch1))
	assert.Equal(t, []byte("hola"), receiveOne(t, ch2))
}

func TestLocalBusChannelsAreIsolated(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	replies, cancel, err := b.Subscribe(ctx, "replies")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "other", []byte("x")))

	select {
	case payload := <-replies:
		t.Fatalf("unexpected payload on replies: %q", payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLocalBusCancelClosesChannel(t *testing.T) {
	b := NewLocalBus()
	ch, cancel, err := b.Subscribe(context.Background(), "replies")
	require.NoError(t, err)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent and publishing after it is a no-op.
	cancel()
	assert.NoError(t, b.Publish(context.Background(), "replies", []byte("late")))
}

func TestLocalBusDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "replies")
	require.NoError(t, err)
	defer cancel()

	// The subscriber buffer holds 64; everything beyond is shed so the
	// publisher never blocks.
	for i := 0; i < 200; i++ {
		require.NoError(t, b.Publish(ctx, "replies", []byte{byte(i)}))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 64, received)
}
