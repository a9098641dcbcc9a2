package clusterc

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandCompleteAtMostOnce(t *testing.T) {
	var calls int
	cmd := NewCommand("GET", "k")
	cmd.Handle(func(reply interface{}, err error) {
		calls++
	})

	cmd.Complete("v", nil)
	cmd.Complete(nil, io.EOF)
	cmd.Complete("w", nil)

	assert.Equal(t, 1, calls, "callback fires exactly once")
}

func TestCommandCompleteConcurrent(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	cmd := NewCommand("GET", "k")
	cmd.Handle(func(reply interface{}, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			cmd.Complete("v", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "callback fires exactly once")
}

func TestCommandContext(t *testing.T) {
	cmd := NewCommand("PING")
	require.NotNil(t, cmd.Context(), "default context")

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	cmd = NewCommandContext(ctx, "PING")
	assert.Equal(t, "v", cmd.Context().Value(key{}))
}

func TestCommandForkOwnGuard(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	cmd := NewCommand("QUIT")
	cmd.Handle(func(reply interface{}, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	// each fork delivers its own completion through the shared callback
	for i := 0; i < 3; i++ {
		cmd.fork().Complete("OK", nil)
	}
	assert.Equal(t, 3, calls, "one delivery per fork")
}
