package engine

import (
	"testing"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/registry"
	"github.com/purpleidea/ioc/service"
)

func testLogf(t *testing.T) func(string, ...interface{}) {
	return func(format string, v ...interface{}) { t.Logf(format, v...) }
}

func testURI(path string) registry.URI {
	return registry.URI{Protocol: registry.ProtocolFIFO, Host: registry.HostLocalProcess, Path: path}
}

func newTestEngine(t *testing.T) *Engine {
	return New(clock.Real{}, 0, testLogf(t))
}

func TestOnlineServiceRejectsDuplicateURI(t *testing.T) {
	eng := newTestEngine(t)
	uri := testURI("/dup")
	if _, err := eng.OnlineService(service.NewArgs(uri, link.UsageEvtConsumer)); err != nil {
		t.Fatalf("first OnlineService: %v", err)
	}
	if _, err := eng.OnlineService(service.NewArgs(uri, link.UsageEvtConsumer)); !ioerr.Is(err, ioerr.KindServiceAlreadyExist) {
		t.Fatalf("expected ServiceAlreadyExist, got %v", err)
	}
}

func TestOfflineServiceUnknownReturnsNotExistService(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.OfflineService(999); !ioerr.Is(err, ioerr.KindNotExistService) {
		t.Fatalf("expected NotExistService, got %v", err)
	}
}

func TestGetCapabilityReportsConfiguredLimits(t *testing.T) {
	eng := newTestEngine(t)
	eng.SetMaxDataChunkSize(4096)
	caps := eng.GetCapability()
	if caps.MaxDataQueueSize != 4096 {
		t.Fatalf("expected MaxDataQueueSize 4096, got %d", caps.MaxDataQueueSize)
	}
	if !caps.ConlesEnabled {
		t.Fatalf("ConlesEnabled should be true")
	}
}

func TestShutdownOfflinesAllServices(t *testing.T) {
	eng := newTestEngine(t)
	srvID, err := eng.OnlineService(service.NewArgs(testURI("/s1"), link.UsageEvtConsumer))
	if err != nil {
		t.Fatalf("OnlineService: %v", err)
	}
	if err := eng.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := eng.OfflineService(srvID); !ioerr.Is(err, ioerr.KindNotExistService) {
		t.Fatalf("service should already be gone after Shutdown, got %v", err)
	}
}
