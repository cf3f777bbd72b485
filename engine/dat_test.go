package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/service"
)

func connectDatPair(t *testing.T, eng *Engine, uri string) (senderID, receiverID id.ID) {
	t.Helper()
	srvArgs := service.NewArgs(testURI(uri), link.UsageDatReceiver)
	srvArgs.Flags = service.AutoAccept
	acceptedLinkID := make(chan id.ID, 1)
	srvArgs.OnAutoAccepted = func(srvID, linkID id.ID, cookie interface{}) error {
		acceptedLinkID <- linkID
		return nil
	}
	if _, err := eng.OnlineService(srvArgs); err != nil {
		t.Fatalf("OnlineService: %v", err)
	}
	args := NewConnArgs(testURI(uri), link.UsageDatSender)
	senderID, err := eng.ConnectService(args, mustOpt(t, option.EVT, option.Raw{}))
	if err != nil {
		t.Fatalf("ConnectService: %v", err)
	}
	receiverID = <-acceptedLinkID
	return senderID, receiverID
}

func TestSendRecvDATOrderPreserved(t *testing.T) {
	eng := newTestEngine(t)
	senderID, receiverID := connectDatPair(t, eng, "/dat-order")

	for _, b := range []string{"A", "B", "C"} {
		if err := eng.SendDAT(senderID, []byte(b), msg.DatFlagNone, mustOpt(t, option.DAT, option.Raw{})); err != nil {
			t.Fatalf("SendDAT(%q): %v", b, err)
		}
	}

	var got []byte
	for i := 0; i < 3; i++ {
		d, err := eng.RecvDAT(receiverID, mustOpt(t, option.DAT, option.Raw{}))
		if err != nil {
			t.Fatalf("RecvDAT %d: %v", i, err)
		}
		got = append(got, d.Bytes...)
	}
	if string(got) != "ABC" {
		t.Fatalf("got %q, want ABC", got)
	}

	if err := eng.FlushDAT(senderID, mustOpt(t, option.DAT, option.Raw{})); err != nil {
		t.Fatalf("FlushDAT: %v", err)
	}
}

func TestSendDATTooLarge(t *testing.T) {
	eng := newTestEngine(t)
	eng.SetMaxDataChunkSize(4)
	senderID, _ := connectDatPair(t, eng, "/dat-toolarge")

	err := eng.SendDAT(senderID, []byte("too big"), msg.DatFlagNone, mustOpt(t, option.DAT, option.Raw{}))
	if !ioerr.Is(err, ioerr.KindDataTooLarge) {
		t.Fatalf("expected DataTooLarge, got %v", err)
	}
}

func TestRegisterDatReceiverCallbackDelivery(t *testing.T) {
	eng := newTestEngine(t)
	senderID, receiverID := connectDatPair(t, eng, "/dat-callback")

	var mutex sync.Mutex
	var got []byte
	if err := eng.RegisterDatReceiver(receiverID, func(linkID id.ID, d *msg.DatDesc) error {
		mutex.Lock()
		got = append(got, d.Bytes...)
		mutex.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("RegisterDatReceiver: %v", err)
	}

	for _, b := range []string{"A", "B"} {
		if err := eng.SendDAT(senderID, []byte(b), msg.DatFlagNone, mustOpt(t, option.DAT, option.Raw{})); err != nil {
			t.Fatalf("SendDAT: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mutex.Lock()
		g := string(got)
		mutex.Unlock()
		if g == "AB" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("chunks never fully delivered via callback")
}

func TestDatReceiverRetryThenLinkBrokenOnPersistentFailure(t *testing.T) {
	eng := newTestEngine(t)
	eng.SetMaxRecvRetry(2)
	senderID, receiverID := connectDatPair(t, eng, "/dat-retrybroken")

	var attempts int
	var mutex sync.Mutex
	if err := eng.RegisterDatReceiver(receiverID, func(linkID id.ID, d *msg.DatDesc) error {
		mutex.Lock()
		attempts++
		mutex.Unlock()
		return ioerr.New(ioerr.KindBug, "receiver always fails")
	}); err != nil {
		t.Fatalf("RegisterDatReceiver: %v", err)
	}

	if err := eng.SendDAT(senderID, []byte("x"), msg.DatFlagNone, mustOpt(t, option.DAT, option.Raw{})); err != nil {
		t.Fatalf("SendDAT: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var l *link.Object
	closed := false
	for time.Now().Before(deadline) {
		var err error
		l, err = eng.lookupLink(receiverID)
		if err != nil || l.State() == link.Closed {
			closed = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !closed {
		t.Fatalf("receiver link was never closed after MaxRecvRetry failed deliveries")
	}
	mutex.Lock()
	defer mutex.Unlock()
	if attempts < 2 {
		t.Fatalf("expected at least MaxRecvRetry attempts, got %d", attempts)
	}
}
