package msg

import (
	"errors"
	"testing"
	"time"
)

func TestCmdDescAckUnblocksWait(t *testing.T) {
	cd := NewCmdDesc("PING", []byte("hi"))
	done := make(chan struct{})
	go func() {
		cd.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned before Ack")
	case <-time.After(20 * time.Millisecond):
	}

	cd.Ack([]byte("PONG"), nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Ack")
	}

	if string(cd.Out) != "PONG" || cd.Status != CmdCompleted || !cd.IsAcked() {
		t.Fatalf("unexpected CmdDesc state after Ack: %+v", cd)
	}
}

func TestCmdDescAckWithErrorMarksAbandoned(t *testing.T) {
	cd := NewCmdDesc("PING", nil)
	cd.Ack(nil, errors.New("timed out"))
	if cd.Status != CmdAbandoned {
		t.Fatalf("expected CmdAbandoned, got %v", cd.Status)
	}
}

func TestCmdDescMarkTimedOutThenLateAckIsNoop(t *testing.T) {
	cd := NewCmdDesc("PING", nil)
	if already := cd.MarkTimedOut(); already {
		t.Fatalf("MarkTimedOut should report false: nothing had acked yet")
	}
	if cd.Status != CmdAbandoned {
		t.Fatalf("expected CmdAbandoned after MarkTimedOut, got %v", cd.Status)
	}
	// the executor didn't know the initiator gave up; it acks anyway.
	cd.Ack([]byte("late"), nil)
	if cd.IsAcked() {
		t.Fatalf("late Ack after MarkTimedOut must not mark acked")
	}
	if string(cd.Out) != "" {
		t.Fatalf("late Ack after MarkTimedOut must not publish Out")
	}
}

func TestCmdDescMarkTimedOutLosesRaceToAck(t *testing.T) {
	cd := NewCmdDesc("PING", nil)
	cd.Ack([]byte("PONG"), nil)
	if already := cd.MarkTimedOut(); !already {
		t.Fatalf("MarkTimedOut should report true: Ack had already landed")
	}
	if cd.Status != CmdCompleted {
		t.Fatalf("a prior successful Ack must not be overwritten by a late timeout")
	}
}

func TestCmdDescWaitChanAlongsideTimer(t *testing.T) {
	cd := NewCmdDesc("PING", nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cd.Ack([]byte("ok"), nil)
	}()

	select {
	case <-cd.WaitChan():
	case <-time.After(time.Second):
		t.Fatalf("WaitChan did not fire")
	}
}
