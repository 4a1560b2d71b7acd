package stream

import (
	"errors"
	"testing"
	"time"
)

func collect(t *testing.T, s *Stream[int]) []int {
	t.Helper()
	var out []int
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatalf("stream did not close, got %v so far", out)
		}
	}
}

func TestOrderPreservedAcrossEnd(t *testing.T) {
	s := New[int]()
	for i := 0; i < 100; i++ {
		if !s.Send(i) {
			t.Fatalf("send %d rejected", i)
		}
	}
	reason := errors.New("link lost")
	s.End(reason)

	got := collect(t, s)
	if len(got) != 100 {
		t.Fatalf("got %d events, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d = %d", i, v)
		}
	}
	if s.Err() != reason {
		t.Fatalf("err = %v, want %v", s.Err(), reason)
	}
	<-s.Done()
}

func TestSendAfterEnd(t *testing.T) {
	s := New[string]()
	if !s.End(nil) {
		t.Fatalf("first End returned false")
	}
	if s.End(errors.New("late")) {
		t.Fatalf("second End took effect")
	}
	if s.Send("x") {
		t.Fatalf("send accepted after End")
	}
	if s.Err() != nil {
		t.Fatalf("err = %v, want nil", s.Err())
	}
	if !s.Ended() {
		t.Fatalf("Ended() = false")
	}
	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected closed channel")
	}
}

func TestCancelUnblocksPump(t *testing.T) {
	s := New[int]()
	s.Send(1)
	s.Send(2)
	s.Cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("pump still running after Cancel")
	}
	if s.Send(3) {
		t.Fatalf("send accepted after Cancel")
	}
}

func TestSendNeverBlocks(t *testing.T) {
	s := New[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Send(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Send blocked without a reader")
	}
	s.Cancel()
}

func TestDoneWaitsForReceiver(t *testing.T) {
	s := New[int]()
	s.Send(1)
	s.End(nil)

	select {
	case <-s.Done():
		t.Fatalf("done before the pending event was received")
	case <-time.After(50 * time.Millisecond):
	}
	if got := collect(t, s); len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v", got)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("done not closed after drain")
	}
}
