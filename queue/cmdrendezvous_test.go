package queue

import (
	"testing"
	"time"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
)

func TestCmdRendezvousPingPong(t *testing.T) {
	r := NewCmdRendezvous()
	clk := clock.Real{}
	opt := mustOpt(t, option.CMD, option.Raw{})

	cd := msg.NewCmdDesc("PING", []byte("hi"))
	go func() {
		got, ok := r.Next()
		if !ok {
			t.Errorf("Next() failed")
			return
		}
		got.Ack([]byte("PONG"), nil)
		r.Release()
	}()

	if err := r.Install(clk, cd, opt); err != nil {
		t.Fatalf("Install: %v", err)
	}
	cd.Wait()
	if string(cd.Out) != "PONG" {
		t.Fatalf("got %q, want PONG", cd.Out)
	}
}

func TestCmdRendezvousNonBlockFailsFastWhenBusy(t *testing.T) {
	r := NewCmdRendezvous()
	clk := clock.Real{}
	blocking := option.MayBlock
	opt := mustOpt(t, option.CMD, option.Raw{Blocking: &blocking})

	cd1 := msg.NewCmdDesc("PING", nil)
	if err := r.Install(clk, cd1, opt); err != nil {
		t.Fatalf("Install: %v", err)
	}

	nb := option.NonBlock
	nbOpt := mustOpt(t, option.CMD, option.Raw{Blocking: &nb})
	cd2 := msg.NewCmdDesc("PING", nil)
	err := r.Install(clk, cd2, nbOpt)
	if !ioerr.Is(err, ioerr.KindCmdSlotBusy) {
		t.Fatalf("expected CmdSlotBusy, got %v", err)
	}
}

func TestCmdRendezvousNextWaitNonBlockEmpty(t *testing.T) {
	r := NewCmdRendezvous()
	nb := option.NonBlock
	opt := mustOpt(t, option.CMD, option.Raw{Blocking: &nb})
	cd, ok, err := r.NextWait(clock.Real{}, opt)
	if cd != nil || ok || err != nil {
		t.Fatalf("expected (nil,false,nil) on empty NonBlock NextWait, got (%v,%v,%v)", cd, ok, err)
	}
}

func TestCmdRendezvousNextWaitTimeout(t *testing.T) {
	r := NewCmdRendezvous()
	v := clock.NewVirtual(time.Unix(0, 0))
	b := option.Timeout
	opt := mustOpt(t, option.CMD, option.Raw{Blocking: &b, Timeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, _, err := r.NextWait(v, opt)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	v.Advance(100 * time.Millisecond)

	select {
	case err := <-done:
		if !ioerr.Is(err, ioerr.KindTimeout) {
			t.Fatalf("expected Timeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("NextWait never returned")
	}
}

func TestCmdRendezvousCloseForceAcksPendingCmdDesc(t *testing.T) {
	r := NewCmdRendezvous()
	cd := msg.NewCmdDesc("PING", nil)
	if err := r.Install(clock.Real{}, cd, mustOpt(t, option.CMD, option.Raw{})); err != nil {
		t.Fatalf("Install: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		cd.Wait()
		done <- cd.Result
	}()

	r.Close() // nobody ever called Next/Ack; Close must unblock cd.Wait anyway

	select {
	case err := <-done:
		if !ioerr.Is(err, ioerr.KindLinkBroken) {
			t.Fatalf("expected LinkBroken, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cd.Wait() never unblocked after Close")
	}
}

func TestCmdRendezvousCloseUnblocksInstallAndNext(t *testing.T) {
	r := NewCmdRendezvous()

	done := make(chan bool, 1)
	go func() {
		_, ok := r.Next()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Next should report ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Next never unblocked on Close")
	}
}
