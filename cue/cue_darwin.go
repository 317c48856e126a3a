//go:build darwin

package cue

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	initOnce sync.Once
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	deviceMu sync.Mutex

	// read by the device callback
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
)

func initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, cfg, malgo.DeviceCallbacks{Data: fill})
	return err
}

func setup() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	if err := initDevice(); err != nil {
		malgoCtx.Uninit()
		malgoCtx = nil
	}
}

func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	n := uint32(0)
	if p := current.Load(); p != nil {
		buf := *p
		at := pos.Load()
		if at < uint32(len(buf)) {
			n = min(want, uint32(len(buf))-at)
			copy(out[:n], buf[at:at+n])
			pos.Store(at + n)
		} else {
			current.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(samples []int16) {
	initOnce.Do(setup)
	if malgoCtx == nil || len(samples) == 0 {
		return
	}
	buf := pcmBytes(samples)

	deviceMu.Lock()
	defer deviceMu.Unlock()
	if device == nil {
		return
	}
	device.Stop()
	pos.Store(0)
	current.Store(&buf)

	if err := device.Start(); err != nil {
		// the device goes stale across sleep and wake
		device.Uninit()
		if err := initDevice(); err != nil {
			device = nil
			current.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			current.Store(nil)
		}
	}
}
