package queue

import (
	"testing"
	"time"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
)

func TestDatQueueOrderPreserved(t *testing.T) {
	q := NewDatChunkQueue(8)
	clk := clock.Real{}
	opt := mustOpt(t, option.DAT, option.Raw{})

	for _, b := range []string{"A", "B", "C"} {
		if err := q.Enqueue(clk, &msg.DatDesc{Bytes: []byte(b)}, opt); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	var got []byte
	for i := 0; i < 3; i++ {
		d, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue failed at %d", i)
		}
		got = append(got, d.Bytes...)
	}
	if string(got) != "ABC" {
		t.Fatalf("got %q, want ABC", got)
	}
}

func TestDatQueueNonBlockFullReturnsBufferFull(t *testing.T) {
	q := NewDatChunkQueue(1)
	clk := clock.Real{}
	nb := option.NonBlock
	opt := mustOpt(t, option.DAT, option.Raw{Blocking: &nb})

	if err := q.Enqueue(clk, &msg.DatDesc{Bytes: []byte("x")}, opt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(clk, &msg.DatDesc{Bytes: []byte("y")}, opt)
	if !ioerr.Is(err, ioerr.KindBufferFull) {
		t.Fatalf("expected BufferFull, got %v", err)
	}
}

func TestDatQueuePeekCommitRetrySameChunk(t *testing.T) {
	q := NewDatChunkQueue(4)
	clk := clock.Real{}
	opt := mustOpt(t, option.DAT, option.Raw{})
	if err := q.Enqueue(clk, &msg.DatDesc{Bytes: []byte("x")}, opt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d1, ok := q.PeekFront()
	if !ok || string(d1.Bytes) != "x" {
		t.Fatalf("PeekFront got %+v ok=%v", d1, ok)
	}
	// simulate a failed callback: peek again without commit, same chunk.
	d2, ok := q.PeekFront()
	if !ok || string(d2.Bytes) != "x" {
		t.Fatalf("second PeekFront should return the same uncommitted chunk")
	}
	if q.Len() != 1 {
		t.Fatalf("chunk should still be queued until committed")
	}
	q.CommitFront()
	if q.Len() != 0 {
		t.Fatalf("chunk should be gone after CommitFront")
	}
}

func TestDatQueueDequeueWaitNonBlockEmpty(t *testing.T) {
	q := NewDatChunkQueue(4)
	clk := clock.Real{}
	nb := option.NonBlock
	opt := mustOpt(t, option.DAT, option.Raw{Blocking: &nb})
	_, err := q.DequeueWait(clk, opt)
	if !ioerr.Is(err, ioerr.KindBufferFull) {
		t.Fatalf("expected BufferFull on empty NonBlock dequeue, got %v", err)
	}
}

func TestDatQueueFlushWaitsForDrain(t *testing.T) {
	q := NewDatChunkQueue(4)
	clk := clock.Real{}
	opt := mustOpt(t, option.DAT, option.Raw{})
	q.Enqueue(clk, &msg.DatDesc{Bytes: []byte("x")}, opt)

	done := make(chan error, 1)
	go func() { done <- q.WaitDrain(clk, opt) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("flush returned before chunk consumed")
	default:
	}

	q.Dequeue()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("flush error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("flush never returned")
	}
}
