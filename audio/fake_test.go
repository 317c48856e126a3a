package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func pcmOf(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%500))
	}
	return pcm
}

func TestFakeCaptureDeliversAllPCM(t *testing.T) {
	pcm := pcmOf(5000)
	c := NewFakeCapture(pcm, false)

	var got int
	c.SetCallback(func(data []byte, frames uint32) {
		got += len(data)
		if int(frames) != len(data)/2 {
			t.Errorf("frames = %d for %d bytes", frames, len(data))
		}
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	<-c.AudioDone()
	c.Stop()

	if got != len(pcm) {
		t.Errorf("delivered %d bytes, want %d", got, len(pcm))
	}
	if c.Starts() != 1 {
		t.Errorf("Starts = %d, want 1", c.Starts())
	}
}

func TestFakeCaptureRealtimeStop(t *testing.T) {
	c := NewFakeCapture(pcmOf(16000*5), true)

	var mu sync.Mutex
	var got int
	c.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		got += len(data)
		mu.Unlock()
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	c.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if got == 0 {
		t.Error("expected some audio before stop")
	}
	if got >= 16000*5*2 {
		t.Error("stop did not interrupt realtime feed")
	}
}

func TestFakeCaptureStartErr(t *testing.T) {
	c := NewFakeCapture(nil, false)
	c.StartErr = errors.New("denied")
	if err := c.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if c.Starts() != 0 {
		t.Errorf("Starts = %d, want 0", c.Starts())
	}
	c.Stop() // no-op when never started
}

func TestFakeContextSkipsWAVHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	data := append(make([]byte, WAVHeaderSize), pcmOf(100)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	ctx, err := NewFakeContext(path, false)
	if err != nil {
		t.Fatal(err)
	}
	dev, err := FindDevice(ctx, "fake")
	if err != nil || dev == nil {
		t.Fatalf("FindDevice = %v, %v", dev, err)
	}
	capture, err := ctx.NewCapture(dev, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	var got int
	capture.SetCallback(func(d []byte, _ uint32) { got += len(d) })
	if err := capture.Start(); err != nil {
		t.Fatal(err)
	}
	capture.Stop()
	if got != 200 {
		t.Errorf("got %d bytes, want 200", got)
	}
}
