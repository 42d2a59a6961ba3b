package media_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmikh/recordio/internal/media"
	"github.com/jmikh/recordio/internal/media/simdevice"
)

func displayTracks(t *testing.T, dev *simdevice.Device) (video, audio media.Track) {
	t.Helper()
	stream, err := dev.AcquireDisplay(context.Background(), media.DisplayRequest{Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("acquire display: %v", err)
	}
	return stream.VideoTrack(), stream.AudioTrack()
}

func TestRecorderLifecycle(t *testing.T) {
	dev := simdevice.New(simdevice.Options{SystemAudio: true})
	video, audio := displayTracks(t, dev)
	defer video.Stop()
	defer audio.Stop()

	rec := media.NewRecorder("screen", video, audio, 10*time.Millisecond)
	if got := rec.State(); got != media.RecorderIdle {
		t.Fatalf("initial state %s", got)
	}

	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := rec.State(); got != media.RecorderRecording {
		t.Fatalf("state after start %s", got)
	}
	if err := rec.Start(); err == nil {
		t.Error("second start succeeded")
	}

	time.Sleep(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := rec.State(); got != media.RecorderStopped {
		t.Fatalf("state after stop %s", got)
	}

	if !rec.HasData() {
		t.Error("no chunks drained while recording")
	}
	blob := string(rec.Blob())
	if !strings.Contains(blob, "video:display") {
		t.Errorf("blob missing video chunks: %.80s", blob)
	}
	if !strings.Contains(blob, "audio:system") {
		t.Errorf("blob missing audio chunks: %.80s", blob)
	}

	w, h := rec.Dimensions()
	if w != 1280 || h != 720 {
		t.Errorf("dimensions %dx%d", w, h)
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	dev := simdevice.New(simdevice.Options{})
	video, _ := displayTracks(t, dev)
	defer video.Stop()

	rec := media.NewRecorder("screen", video, nil, 10*time.Millisecond)
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRecorderStopBeforeStartFails(t *testing.T) {
	dev := simdevice.New(simdevice.Options{})
	video, _ := displayTracks(t, dev)
	defer video.Stop()

	rec := media.NewRecorder("screen", video, nil, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rec.Stop(ctx); err == nil {
		t.Error("stop from idle succeeded")
	}
}

func TestRecorderVideoOnly(t *testing.T) {
	dev := simdevice.New(simdevice.Options{})
	video, audio := displayTracks(t, dev)
	defer video.Stop()
	if audio != nil {
		t.Fatal("display stream unexpectedly has audio")
	}

	rec := media.NewRecorder("screen", video, nil, 10*time.Millisecond)
	if rec.HasAudio() {
		t.Error("video-only recorder reports audio")
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !rec.HasData() {
		t.Error("no video chunks drained")
	}
}
