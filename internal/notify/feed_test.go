package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestFeed_SubscribeYieldsCurrentValue(t *testing.T) {
	feed := NewFeed("initial")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := feed.Subscribe(ctx)
	assert.Equal(t, "initial", receive(t, ch))

	feed.Publish("next")
	assert.Equal(t, "next", receive(t, ch))

	late := feed.Subscribe(ctx)
	assert.Equal(t, "next", receive(t, late))
}

func TestFeed_SlowSubscriberSeesLatest(t *testing.T) {
	feed := NewFeed(0)
	defer feed.Close()
	ch := feed.Subscribe(context.Background())

	for i := 1; i <= 10; i++ {
		feed.Publish(i)
	}

	assert.Equal(t, 10, receive(t, ch))
	select {
	case v := <-ch:
		t.Fatalf("unexpected backlog value %d", v)
	default:
	}
}

func TestFeed_ContextCancelClosesChannel(t *testing.T) {
	feed := NewFeed(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := feed.Subscribe(ctx)
	receive(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing after the subscriber left must not panic
	feed.Publish(1)
}

func TestFeed_Close(t *testing.T) {
	feed := NewFeed(0)
	ch := feed.Subscribe(context.Background())
	receive(t, ch)

	feed.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// Ignored once closed
	feed.Publish(5)

	late := feed.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}

func TestFeed_SubscribersDoNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	feed := NewFeed("")
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		feed.Subscribe(ctx)
	}
	feed.Subscribe(context.Background())

	cancel()
	feed.Close()
}
