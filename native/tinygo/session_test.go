package tinygo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blecentral"
)

func TestSessionRunsStackCallsInOrder(t *testing.T) {
	a := New(WithBluetooth(&bluetooth.Adapter{}))
	s := newSession(a, blecentral.NewAddr("AA:BB:CC:DD:EE:01"), nil)
	defer s.Close()

	var mu sync.Mutex
	var got []int
	gate := make(chan struct{})
	finished := make(chan struct{})

	// the first call holds the worker so the rest queue up behind it
	s.run(func() { <-gate })
	const n = 50
	for i := 0; i < n; i++ {
		i := i
		s.run(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == n-1 {
				close(finished)
			}
		})
	}
	close(gate)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("stack calls did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSessionDropsCallsAfterClose(t *testing.T) {
	a := New(WithBluetooth(&bluetooth.Adapter{}))
	s := newSession(a, blecentral.NewAddr("AA:BB:CC:DD:EE:01"), nil)
	require.NoError(t, s.Close())

	ran := make(chan struct{}, 1)
	s.run(func() { ran <- struct{}{} })
	select {
	case <-ran:
		t.Fatalf("call ran on a closed session")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Error(t, s.DiscoverServices())
}
