package clusterc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Reconnecting:  "reconnecting",
		Disconnecting: "disconnecting",
		StateError:    "error",
		State(99):     "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestStateZeroValue(t *testing.T) {
	var cs connState
	assert.Equal(t, Disconnected, cs.get())
}

func TestStateGuardedTransition(t *testing.T) {
	var cs connState
	assert.True(t, cs.cas(Disconnected, Connecting), "first swap")
	assert.False(t, cs.cas(Disconnected, Connecting), "swap from wrong state")
	assert.Equal(t, Connecting, cs.get())

	cs.set(StateError)
	assert.Equal(t, StateError, cs.get())
}

func TestStateConcurrentSwapSingleWinner(t *testing.T) {
	var cs connState

	const n = 32
	var (
		wg   sync.WaitGroup
		wins int
		mu   sync.Mutex
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if cs.cas(Disconnected, Connecting) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one winner")
	assert.Equal(t, Connecting, cs.get())
}
