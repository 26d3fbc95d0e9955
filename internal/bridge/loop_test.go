package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnoelg/watchbridge/internal/options"
)

func startLoop(t *testing.T, b *Bridge) *Loop {
	t.Helper()
	l := NewLoop(b, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestLoop_FullFlow(t *testing.T) {
	h := newHarness(t, options.Classic)
	l := startLoop(t, h.bridge)
	ctx := context.Background()

	require.NoError(t, l.Ready(ctx))
	assert.True(t, h.bridge.State().Ready)

	show, err := l.ShowConfiguration(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, show.FlowID)

	_, err = l.ShowConfiguration(ctx)
	assert.ErrorIs(t, err, ErrFlowInProgress)

	cl, err := l.WebviewClosed(ctx, `{"hh-in-bold":"0","mm-in-bold":"1","locale":"en_US"}`)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, cl.Outcome)
	assert.Equal(t, show.FlowID, cl.FlowID)
	assert.Equal(t, Idle, h.bridge.State().Phase)
}

// Concurrent posters are serialized: exactly one of them opens a flow.
func TestLoop_SerializesConcurrentShows(t *testing.T) {
	h := newHarness(t, options.Classic)
	l := startLoop(t, h.bridge)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ShowConfiguration(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrFlowInProgress)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, h.opener.urls, 1)
}

func TestLoop_PostHonoursContext(t *testing.T) {
	h := newHarness(t, options.Classic)
	l := NewLoop(h.bridge, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Nothing is running the loop, so the reply never comes.
	_, err := l.Post(ctx, Event{Kind: KindReady})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
