package registry

import (
	"testing"

	"github.com/purpleidea/ioc/ioerr"
)

func TestOnlineRejectsDuplicateURI(t *testing.T) {
	r := New()
	uri := URI{Protocol: ProtocolFIFO, Host: HostLocalProcess, Path: "/a", Port: 0}
	if err := r.Online(uri, 1); err != nil {
		t.Fatalf("first Online: %v", err)
	}
	err := r.Online(uri, 2)
	if !ioerr.Is(err, ioerr.KindServiceAlreadyExist) {
		t.Fatalf("expected ServiceAlreadyExist, got %v", err)
	}
}

func TestOfflineFreesURIForReuse(t *testing.T) {
	r := New()
	uri := URI{Protocol: ProtocolFIFO, Host: HostLocalProcess, Path: "/a", Port: 0}
	r.Online(uri, 1)
	r.Offline(1)
	if err := r.Online(uri, 2); err != nil {
		t.Fatalf("Online after Offline should succeed: %v", err)
	}
	got, ok := r.Lookup(uri)
	if !ok || got != 2 {
		t.Fatalf("Lookup after reuse got %v ok=%v, want 2", got, ok)
	}
}

func TestOfflineUnknownIsNoop(t *testing.T) {
	r := New()
	r.Offline(999) // must not panic
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLookupAndURIOf(t *testing.T) {
	r := New()
	uri := URI{Protocol: ProtocolFIFO, Host: HostLocalProcess, Path: "/svc", Port: 7}
	r.Online(uri, 42)

	got, ok := r.Lookup(uri)
	if !ok || got != 42 {
		t.Fatalf("Lookup got %v ok=%v", got, ok)
	}
	uri2, ok := r.URIOf(42)
	if !ok || uri2 != uri {
		t.Fatalf("URIOf got %+v ok=%v", uri2, ok)
	}
}
