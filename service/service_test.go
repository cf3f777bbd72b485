package service

import (
	"errors"
	"testing"
	"time"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/registry"
)

func testLogf(t *testing.T) func(string, ...interface{}) {
	return func(format string, v ...interface{}) { t.Logf(format, v...) }
}

func testURI(path string) registry.URI {
	return registry.URI{Protocol: registry.ProtocolFIFO, Host: registry.HostLocalProcess, Path: path}
}

func newConnectedPair(t *testing.T, linkID uint64) *link.Object {
	t.Helper()
	accepted := link.New(id.ID(linkID), link.UsageEvtConsumer, 4, 4, testLogf(t))
	client := link.New(id.ID(linkID+1000), link.UsageEvtProducer, 4, 4, testLogf(t))
	if err := accepted.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := client.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := accepted.Connect(client); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Connect(accepted); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return accepted
}

func TestAutoAcceptCallsHookAndAccepts(t *testing.T) {
	var gotSrv, gotLink id.ID
	args := NewArgs(testURI("/a"), link.UsageEvtConsumer)
	args.Flags = AutoAccept
	args.OnAutoAccepted = func(srvID, linkID id.ID, cookie interface{}) error {
		gotSrv, gotLink = srvID, linkID
		return nil
	}
	svc := New(1, args, testLogf(t))

	accepted := newConnectedPair(t, 10)
	req := &ConnectRequest{Usage: link.UsageEvtConsumer, Link: accepted, Result: make(chan error, 1)}
	if err := svc.Enqueue(req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case err := <-req.Result:
		if err != nil {
			t.Fatalf("auto-accept result: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("auto-accept never replied")
	}

	if gotSrv != 1 || gotLink != accepted.ID {
		t.Fatalf("hook got srv=%v link=%v", gotSrv, gotLink)
	}
	if len(svc.Accepted()) != 1 {
		t.Fatalf("expected exactly one accepted link")
	}
}

func TestAutoAcceptHookFailureClosesLinkAndReportsConnectionFailed(t *testing.T) {
	args := NewArgs(testURI("/b"), link.UsageEvtConsumer)
	args.Flags = AutoAccept
	args.OnAutoAccepted = func(srvID, linkID id.ID, cookie interface{}) error {
		return errors.New("rejected by policy")
	}
	svc := New(1, args, testLogf(t))

	accepted := newConnectedPair(t, 20)
	req := &ConnectRequest{Usage: link.UsageEvtConsumer, Link: accepted, Result: make(chan error, 1)}
	svc.Enqueue(req)

	select {
	case err := <-req.Result:
		if !ioerr.Is(err, ioerr.KindConnectionFailed) {
			t.Fatalf("expected ConnectionFailed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("never replied")
	}
	if accepted.State() != link.Closed {
		t.Fatalf("rejected link should be Closed, got %v", accepted.State())
	}
	if len(svc.Accepted()) != 0 {
		t.Fatalf("rejected link must not remain accepted")
	}
}

func TestManualDequeueWithoutAutoAccept(t *testing.T) {
	args := NewArgs(testURI("/c"), link.UsageEvtConsumer)
	svc := New(1, args, testLogf(t))

	accepted := newConnectedPair(t, 30)
	req := &ConnectRequest{Usage: link.UsageEvtConsumer, Link: accepted, Result: make(chan error, 1)}
	if err := svc.Enqueue(req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, ok := svc.Dequeue()
	if !ok || got != req {
		t.Fatalf("Dequeue got %+v ok=%v", got, ok)
	}
	svc.Accept(got.Link)
	got.Result <- nil
	if len(svc.Accepted()) != 1 {
		t.Fatalf("expected one accepted link after manual Accept")
	}
}

func TestBeginOfflineCascadesUnlessKeepAccepted(t *testing.T) {
	args := NewArgs(testURI("/d"), link.UsageEvtConsumer)
	svc := New(1, args, testLogf(t))
	accepted := newConnectedPair(t, 40)
	svc.Accept(accepted)

	toClose, ok := svc.BeginOffline()
	if !ok {
		t.Fatalf("BeginOffline should succeed")
	}
	if len(toClose) != 1 {
		t.Fatalf("expected one link to cascade-close, got %d", len(toClose))
	}
	if len(svc.Accepted()) != 0 {
		t.Fatalf("fan-out table must be cleared at offline")
	}
	svc.FinishOffline()
	if svc.State() != Closed {
		t.Fatalf("expected Closed")
	}

	if _, ok := svc.BeginOffline(); ok {
		t.Fatalf("second BeginOffline must report false")
	}
}

func TestBeginOfflineKeepsAcceptedLinksWhenFlagSet(t *testing.T) {
	args := NewArgs(testURI("/e"), link.UsageEvtConsumer)
	args.Flags = KeepAcceptedLink
	svc := New(1, args, testLogf(t))
	accepted := newConnectedPair(t, 50)
	svc.Accept(accepted)

	toClose, ok := svc.BeginOffline()
	if !ok {
		t.Fatalf("BeginOffline should succeed")
	}
	if len(toClose) != 0 {
		t.Fatalf("KeepAcceptedLink must not schedule any cascade-close, got %d", len(toClose))
	}
	if accepted.State() != link.Connected {
		t.Fatalf("kept link must remain Connected, got %v", accepted.State())
	}
	if len(svc.Accepted()) != 0 {
		t.Fatalf("fan-out table must still be cleared even with KeepAcceptedLink")
	}
}

func TestDequeueWaitNonBlockEmpty(t *testing.T) {
	args := NewArgs(testURI("/f"), link.UsageEvtConsumer)
	svc := New(1, args, testLogf(t))

	nb := option.NonBlock
	opt, err := option.Canonicalize(option.EVT, option.Raw{Blocking: &nb})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	_, err = svc.DequeueWait(clock.Real{}, opt)
	if !ioerr.Is(err, ioerr.KindConnectionFailed) {
		t.Fatalf("expected ConnectionFailed on empty NonBlock dequeue, got %v", err)
	}
}

func TestDequeueWaitTimeout(t *testing.T) {
	args := NewArgs(testURI("/g"), link.UsageEvtConsumer)
	svc := New(1, args, testLogf(t))

	v := clock.NewVirtual(time.Unix(0, 0))
	b := option.Timeout
	opt, err := option.Canonicalize(option.EVT, option.Raw{Blocking: &b, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.DequeueWait(v, opt)
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
		t.Fatalf("DequeueWait never returned")
	}
}

func TestDequeueWaitDeliversPendingRequest(t *testing.T) {
	args := NewArgs(testURI("/h"), link.UsageEvtConsumer)
	svc := New(1, args, testLogf(t))
	accepted := newConnectedPair(t, 60)
	req := &ConnectRequest{Usage: link.UsageEvtConsumer, Link: accepted, Result: make(chan error, 1)}
	if err := svc.Enqueue(req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	opt, err := option.Canonicalize(option.EVT, option.Raw{})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	got, err := svc.DequeueWait(clock.Real{}, opt)
	if err != nil {
		t.Fatalf("DequeueWait: %v", err)
	}
	if got != req {
		t.Fatalf("DequeueWait returned the wrong request")
	}
}
