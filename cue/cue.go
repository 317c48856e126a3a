// Package cue plays the short tones that mark a recording starting, ending or
// failing to start.
package cue

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

type Kind int

const (
	Start Kind = iota
	End
	Error
)

const sampleRate = 44100

// tone is a decaying sine, optionally repeated after a gap.
type tone struct {
	freq   float64
	volume float64
	decay  float64
	dur    float64
	repeat int
	gap    float64
}

var tones = [...]tone{
	// high and snappy, the tail fills the output buffer
	Start: {freq: 1200, volume: 0.5, decay: 60, dur: 0.2},
	End:   {freq: 900, volume: 0.5, decay: 40, dur: 0.2},
	// low double beep
	Error: {freq: 350, volume: 0.6, decay: 30, dur: 0.08, repeat: 2, gap: 0.05},
}

var (
	disabled atomic.Bool

	renderOnce sync.Once
	rendered   [len(tones)][]int16
)

// Disable silences all cues for the rest of the process.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Play starts the cue and returns without waiting for it to finish.
// Playback failures are ignored.
func Play(k Kind) {
	if disabled.Load() || k < 0 || int(k) >= len(tones) {
		return
	}
	play(samples(k))
}

func samples(k Kind) []int16 {
	renderOnce.Do(func() {
		for i, t := range tones {
			rendered[i] = render(t, sampleRate)
		}
	})
	return rendered[k]
}

// render returns mono 16-bit samples for t at rate.
func render(t tone, rate int) []int16 {
	n := int(float64(rate) * t.dur)
	beep := make([]int16, n)
	for i := range n {
		x := float64(i) / float64(rate)
		envelope := math.Exp(-x * t.decay)
		beep[i] = int16(math.Sin(2*math.Pi*t.freq*x) * 32767 * t.volume * envelope)
	}
	if t.repeat < 2 {
		return beep
	}

	gap := int(float64(rate) * t.gap)
	out := make([]int16, 0, t.repeat*n+(t.repeat-1)*gap)
	for r := range t.repeat {
		if r > 0 {
			out = append(out, make([]int16, gap)...)
		}
		out = append(out, beep...)
	}
	return out
}

func pcmBytes(s []int16) []byte {
	buf := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}
