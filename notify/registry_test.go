package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/stream"
)

var testKey = Key{
	Service:        blecentral.UUID16(0x180d),
	Characteristic: blecentral.UUID16(0x2a37),
}

func drain(t *testing.T, s *stream.Stream[Event]) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("stream not closed")
		}
	}
}

func TestAckPrecedesValues(t *testing.T) {
	r := NewRegistry(nil)
	s := stream.New[Event]()
	r.Add(testKey, s, true)

	require.True(t, r.Acknowledge(testKey))
	require.True(t, r.Acknowledge(testKey))
	for i := 0; i < 3; i++ {
		require.True(t, r.Deliver(testKey, []byte{byte(i)}))
	}
	require.True(t, r.Remove(testKey))

	got := drain(t, s)
	require.Len(t, got, 4)
	require.Equal(t, Subscribed, got[0].Kind)
	for i, e := range got[1:] {
		require.Equal(t, Value, e.Kind)
		require.Equal(t, i, e.Seq)
		require.Equal(t, []byte{byte(i)}, e.Value)
	}
	require.NoError(t, s.Err())
}

func TestAckHidden(t *testing.T) {
	r := NewRegistry(nil)
	s := stream.New[Event]()
	r.Add(testKey, s, false)
	r.Acknowledge(testKey)
	r.Deliver(testKey, []byte{1})
	r.Remove(testKey)

	got := drain(t, s)
	require.Len(t, got, 1)
	require.Equal(t, Value, got[0].Kind)
	require.Equal(t, 0, got[0].Seq)
}

func TestValueBeforeAckStillOrdered(t *testing.T) {
	r := NewRegistry(nil)
	s := stream.New[Event]()
	r.Add(testKey, s, true)
	r.Deliver(testKey, []byte{9})
	r.Acknowledge(testKey)
	r.Remove(testKey)

	got := drain(t, s)
	require.Len(t, got, 2)
	require.Equal(t, Subscribed, got[0].Kind)
	require.Equal(t, Value, got[1].Kind)
}

func TestDeliverAfterRemove(t *testing.T) {
	r := NewRegistry(nil)
	s := stream.New[Event]()
	r.Add(testKey, s, false)
	r.Remove(testKey)

	if r.Deliver(testKey, []byte{1}) {
		t.Fatalf("value delivered after unsubscribe")
	}
	if got := drain(t, s); len(got) != 0 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestInstanceDisambiguates(t *testing.T) {
	r := NewRegistry(nil)
	a, b := stream.New[Event](), stream.New[Event]()
	k2 := testKey
	k2.Instance = 1
	r.Add(testKey, a, false)
	r.Add(k2, b, false)

	r.Deliver(k2, []byte{2})
	r.Clear(blecentral.ErrDisconnected)

	require.Empty(t, drain(t, a))
	require.Len(t, drain(t, b), 1)
	require.True(t, errors.Is(a.Err(), blecentral.ErrDisconnected))
	require.Equal(t, 0, r.Len())
}

func TestReplaceEndsPrevious(t *testing.T) {
	r := NewRegistry(nil)
	a, b := stream.New[Event](), stream.New[Event]()
	r.Add(testKey, a, false)
	r.Add(testKey, b, false)
	<-a.Done()
	require.NoError(t, a.Err())
	require.True(t, r.Has(testKey))
	b.Cancel()
}
