package link

import (
	"testing"

	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/msg"
)

func testLogf(t *testing.T) func(string, ...interface{}) {
	return func(format string, v ...interface{}) { t.Logf(format, v...) }
}

func TestComplementPairs(t *testing.T) {
	cases := []struct {
		in   Usage
		want Usage
	}{
		{UsageEvtProducer, UsageEvtConsumer},
		{UsageEvtConsumer, UsageEvtProducer},
		{UsageCmdInitiator, UsageCmdExecutor},
		{UsageDatSender, UsageDatReceiver},
		{UsageEvtProducer | UsageDatSender, UsageEvtConsumer | UsageDatReceiver},
	}
	for _, c := range cases {
		if got := Complement(c.in); got != c.want {
			t.Errorf("Complement(%b) = %b, want %b", c.in, got, c.want)
		}
	}
}

func TestConnectRejectsIncompatibleUsage(t *testing.T) {
	a := New(1, UsageEvtProducer, 4, 4, testLogf(t))
	b := New(2, UsageEvtProducer, 4, 4, testLogf(t)) // wrong: should be Consumer

	if err := a.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := a.Connect(b); err == nil {
		t.Fatalf("expected incompatible-usage error")
	}
}

func TestConnectSucceedsAndStateMachine(t *testing.T) {
	a := New(1, UsageEvtProducer, 4, 4, testLogf(t))
	b := New(2, UsageEvtConsumer, 4, 4, testLogf(t))

	if a.State() != Init || b.State() != Init {
		t.Fatalf("new links must start Init")
	}
	if err := a.Attach(); err != nil {
		t.Fatalf("a.Attach: %v", err)
	}
	if err := b.Attach(); err != nil {
		t.Fatalf("b.Attach: %v", err)
	}
	if err := a.Connect(b); err != nil {
		t.Fatalf("a.Connect: %v", err)
	}
	if err := b.Connect(a); err != nil {
		t.Fatalf("b.Connect: %v", err)
	}
	if !a.IsUsable() || !b.IsUsable() {
		t.Fatalf("both sides should be Connected/usable")
	}
	if a.Peer() != b || b.Peer() != a {
		t.Fatalf("peer references not wired correctly")
	}
}

func TestBeginCloseIdempotentAndFinishClosesQueues(t *testing.T) {
	b := New(2, UsageEvtConsumer, 4, 4, testLogf(t))
	b.Attach()

	var hookRan bool
	b.OnClose(func() { hookRan = true })

	if ok := b.BeginClose(); !ok {
		t.Fatalf("first BeginClose should succeed")
	}
	if ok := b.BeginClose(); ok {
		t.Fatalf("second BeginClose should report false")
	}
	b.FinishClose()
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %v", b.State())
	}
	if !hookRan {
		t.Fatalf("close hook did not run")
	}
	if _, ok := b.EvtIn.Dequeue(); ok {
		t.Fatalf("EvtIn should be closed and drained")
	}
	// second FinishClose must not panic or re-run hooks
	b.FinishClose()
}

func TestSubscribedWildcardAndFilter(t *testing.T) {
	b := New(2, UsageEvtConsumer, 4, 4, testLogf(t))
	cb := func(linkID id.ID, evt *msg.EvtDesc) error { return nil }

	if b.Subscribed("anything") {
		t.Fatalf("no callback registered yet, should not be subscribed")
	}

	b.SetEvtCallback(cb, nil)
	if !b.Subscribed("whatever") {
		t.Fatalf("nil filter should mean wildcard subscription")
	}

	b.SetEvtCallback(cb, []string{"ALARM"})
	if b.Subscribed("OTHER") {
		t.Fatalf("filtered subscription should reject non-matching EvtID")
	}
	if !b.Subscribed("ALARM") {
		t.Fatalf("filtered subscription should accept matching EvtID")
	}

	b.ClearEvtCallback()
	if b.Subscribed("ALARM") {
		t.Fatalf("cleared callback should not be subscribed")
	}
}

func TestCmdPollingFlag(t *testing.T) {
	b := New(2, UsageCmdExecutor, 4, 4, testLogf(t))
	if b.IsCmdPolling() {
		t.Fatalf("new link should default to non-polling")
	}
	b.SetCmdPolling(true)
	if !b.IsCmdPolling() {
		t.Fatalf("SetCmdPolling(true) should stick")
	}
}
