package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/flyover/internal/core/domain"
)

func TestHub_DeliversInOrderPerSession(t *testing.T) {
	h := New()
	got := make(chan domain.Event, 8)

	cancel, err := h.Subscribe(context.Background(), "a", func(ctx context.Context, evt domain.Event) error {
		got <- evt
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, h.Publish(context.Background(), domain.Event{SessionID: "b", Type: domain.EventPhase}))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Publish(context.Background(), domain.Event{SessionID: "a", Type: domain.EventProgress, Progress: i}))
	}

	for i := 0; i < 3; i++ {
		select {
		case evt := <-got:
			assert.Equal(t, "a", evt.SessionID)
			assert.Equal(t, i, evt.Progress)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	select {
	case evt := <-got:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	h := New()
	cancel, err := h.Subscribe(context.Background(), "a", func(ctx context.Context, evt domain.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers("a"))

	cancel()
	assert.Equal(t, 0, h.Subscribers("a"))
	cancel()
}

func TestHub_NoHandlerCallAfterCancelReturns(t *testing.T) {
	h := New()
	for round := 0; round < 50; round++ {
		var (
			mu       sync.Mutex
			canceled bool
			late     int
		)
		cancel, err := h.Subscribe(context.Background(), "a", func(ctx context.Context, evt domain.Event) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			if canceled {
				late++
			}
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			require.NoError(t, h.Publish(context.Background(), domain.Event{SessionID: "a", Progress: i}))
		}
		cancel()
		mu.Lock()
		canceled = true
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		assert.Zero(t, late, "round %d: handler ran after cancel returned", round)
		mu.Unlock()
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	block := make(chan struct{})

	cancel, err := h.Subscribe(context.Background(), "a", func(ctx context.Context, evt domain.Event) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	defer func() {
		close(block)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferSize*3; i++ {
			_ = h.Publish(context.Background(), domain.Event{SessionID: "a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
