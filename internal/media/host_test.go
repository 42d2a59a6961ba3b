package media_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/media"
	"github.com/jmikh/recordio/internal/media/simdevice"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

func newHostFixture(t *testing.T, opts simdevice.Options) (*media.Host, *bus.Dispatcher, *simdevice.Device, *memLibrary) {
	t.Helper()
	d := bus.NewDispatcher()
	t.Cleanup(d.Close)
	dev := simdevice.New(opts)
	lib := newMemLibrary()
	host := media.NewHost(d, dev, lib, testChunkInterval)
	return host, d, dev, lib
}

func TestHostProvisionTeardownCycle(t *testing.T) {
	host, d, _, _ := newHostFixture(t, simdevice.Options{})

	if host.Provisioned() {
		t.Fatal("provisioned before Provision")
	}
	if err := host.Provision(); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !host.Provisioned() || !d.Registered(protocol.ContextWorker) {
		t.Fatal("worker context not live after Provision")
	}

	host.Teardown()
	if host.Provisioned() || d.Registered(protocol.ContextWorker) {
		t.Fatal("worker context survived Teardown")
	}

	// Teardown of nothing is a no-op, and a fresh Provision works after it.
	host.Teardown()
	if err := host.Provision(); err != nil {
		t.Fatalf("re-provision: %v", err)
	}
	host.Teardown()
}

func TestHostDoubleProvisionPanics(t *testing.T) {
	host, _, _, _ := newHostFixture(t, simdevice.Options{})
	if err := host.Provision(); err != nil {
		t.Fatalf("provision: %v", err)
	}
	defer host.Teardown()

	defer func() {
		if recover() == nil {
			t.Error("second Provision did not panic")
		}
	}()
	_ = host.Provision()
}

func TestHostTeardownReleasesLiveSession(t *testing.T) {
	host, d, dev, _ := newHostFixture(t, simdevice.Options{SystemAudio: true})
	if err := host.Provision(); err != nil {
		t.Fatalf("provision: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	begin := protocol.MustNew(protocol.TypeBeginCapture, "sess-1", protocol.BeginCapture{
		StartTimeMs: time.Now().UnixMilli(),
		Config:      session.Config{SessionID: "sess-1", Mode: session.ModeDesktop, ViewportW: 800, ViewportH: 600},
	})
	if _, err := d.Call(ctx, "test", protocol.ContextWorker, begin); err != nil {
		t.Fatalf("begin capture call: %v", err)
	}

	host.Teardown()
	if dev.LiveTrackCount() != 0 {
		t.Errorf("%d tracks live after teardown of an active session", dev.LiveTrackCount())
	}
}

func TestWorkerContextProtocol(t *testing.T) {
	host, d, _, _ := newHostFixture(t, simdevice.Options{SystemAudio: true})
	if err := host.Provision(); err != nil {
		t.Fatalf("provision: %v", err)
	}
	defer host.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Readiness.
	pong, err := d.Call(ctx, "test", protocol.ContextWorker, protocol.Envelope{Type: protocol.TypePing})
	if err != nil || pong.Type != protocol.TypePong {
		t.Fatalf("ping: %v %+v", err, pong)
	}

	// Begin.
	begin := protocol.MustNew(protocol.TypeBeginCapture, "sess-1", protocol.BeginCapture{
		StartTimeMs: time.Now().UnixMilli(),
		Config:      session.Config{SessionID: "sess-1", Mode: session.ModeTab, ViewportW: 1280, ViewportH: 720},
	})
	ack, err := d.Call(ctx, "test", protocol.ContextWorker, begin)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var start protocol.StartResult
	if err := ack.Decode(&start); err != nil || start.ErrorCode != "" {
		t.Fatalf("begin ack %+v (%v)", start, err)
	}

	// Events flow in fire-and-forget.
	evEnv := protocol.MustNew(protocol.TypeCaptureEvent, "sess-1", protocol.CaptureEvent{
		Event: events.Event{Kind: events.KindClick, Time: 40, X: 1, Y: 2},
	})
	d.Send(protocol.ContextWorker, evEnv)

	time.Sleep(120 * time.Millisecond)

	// End.
	end := protocol.MustNew(protocol.TypeEndCapture, "sess-1", protocol.EndCapture{})
	res, err := d.Call(ctx, "test", protocol.ContextWorker, end)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	var fin protocol.FinalizeResult
	if err := res.Decode(&fin); err != nil {
		t.Fatalf("decode finalize: %v", err)
	}
	if fin.ErrorCode != "" {
		t.Fatalf("finalize error %s: %s", fin.ErrorCode, fin.Reason)
	}
	if len(fin.SourceIDs) != 1 || fin.ProjectID == "" {
		t.Errorf("finalize result %+v", fin)
	}
}

func TestWorkerContextReportsStreamDenial(t *testing.T) {
	host, d, _, _ := newHostFixture(t, simdevice.Options{FailDisplay: true})
	if err := host.Provision(); err != nil {
		t.Fatalf("provision: %v", err)
	}
	defer host.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	begin := protocol.MustNew(protocol.TypeBeginCapture, "sess-1", protocol.BeginCapture{
		StartTimeMs: time.Now().UnixMilli(),
		Config:      session.Config{SessionID: "sess-1", Mode: session.ModeTab},
	})
	ack, err := d.Call(ctx, "test", protocol.ContextWorker, begin)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var start protocol.StartResult
	if err := ack.Decode(&start); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if start.ErrorCode != session.Code(session.ErrStreamUnavailable) {
		t.Errorf("error code %q", start.ErrorCode)
	}
}
