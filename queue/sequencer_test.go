package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
)

// recorder completes every command asynchronously and records overlap.
type recorder struct {
	mu       sync.Mutex
	seq      *Sequencer
	active   int
	overlaps int
	order    []int
	fail     map[int]bool
	hold     bool
}

func (r *recorder) exec(c gatt.Command) (bool, error) {
	w := c.(*gatt.Write)
	id := int(w.Data[0])

	r.mu.Lock()
	r.order = append(r.order, id)
	if r.fail[id] {
		r.mu.Unlock()
		return false, errors.New("busy")
	}
	r.active++
	if r.active > 1 {
		r.overlaps++
	}
	hold := r.hold
	r.mu.Unlock()

	if hold {
		return true, nil
	}
	go func() {
		time.Sleep(time.Millisecond)
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		w.Resolve(nil)
		r.seq.Finish(w)
	}()
	return true, nil
}

func write(id int, done chan<- error) *gatt.Write {
	return &gatt.Write{
		Data: []byte{byte(id)},
		Done: func(err error) { done <- err },
	}
}

func TestFIFOOneAtATime(t *testing.T) {
	r := &recorder{}
	s := New(r.exec, nil)
	r.seq = s

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Enqueue(write(i, done)))
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d resolved", i, n)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Zero(t, r.overlaps)
	for i, id := range r.order {
		require.Equal(t, i, id)
	}
	require.True(t, s.Idle())
}

func TestSendFailureAdvances(t *testing.T) {
	r := &recorder{fail: map[int]bool{0: true}}
	s := New(r.exec, nil)
	r.seq = s

	done := make(chan error, 2)
	s.Enqueue(write(0, done))
	s.Enqueue(write(1, done))

	require.EqualError(t, <-done, "busy")
	require.NoError(t, <-done)
}

func TestClearFailsQueuedAndInFlight(t *testing.T) {
	r := &recorder{hold: true}
	s := New(r.exec, nil)
	r.seq = s

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		s.Enqueue(write(i, done))
	}
	require.NotNil(t, s.InFlight())
	require.Equal(t, 3, s.Len())

	require.Equal(t, 4, s.Clear(blecentral.ErrDisconnected))
	for i := 0; i < 4; i++ {
		err := <-done
		if !blecentral.IsDisconnected(err) {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	require.True(t, s.Idle())
	require.Nil(t, s.InFlight())
}

func TestFinishStale(t *testing.T) {
	r := &recorder{hold: true}
	s := New(r.exec, nil)
	r.seq = s

	done := make(chan error, 2)
	first := write(0, done)
	s.Enqueue(first)
	s.Clear(blecentral.ErrDisconnected)
	<-done

	if s.Finish(first) {
		t.Fatalf("finished a cleared command")
	}
}

func TestImmediateResolutionAdvances(t *testing.T) {
	var seen []gatt.Kind
	var s *Sequencer
	s = New(func(c gatt.Command) (bool, error) {
		seen = append(seen, c.Kind())
		if wnr, ok := c.(*gatt.WriteNoResponse); ok {
			wnr.Resolve(nil)
			return false, nil
		}
		c.Fail(nil)
		return false, nil
	}, nil)

	s.Enqueue(&gatt.WriteNoResponse{})
	s.Enqueue(&gatt.ReadRSSI{})
	require.Equal(t, []gatt.Kind{gatt.KindWriteNoResponse, gatt.KindReadRSSI}, seen)
	require.True(t, s.Idle())
}
