package cue

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSingleTone(t *testing.T) {
	s := render(tones[Start], 1000)
	assert.Len(t, s, 200)
	assert.Equal(t, int16(0), s[0])

	peakHead, peakTail := 0, 0
	for i, v := range s {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if i < 20 {
			peakHead = max(peakHead, a)
		} else if i >= 180 {
			peakTail = max(peakTail, a)
		}
	}
	assert.Greater(t, peakHead, peakTail)
}

func TestRenderDoubleBeep(t *testing.T) {
	tn := tones[Error]
	s := render(tn, 1000)
	beep := int(1000 * tn.dur)
	gap := int(1000 * tn.gap)
	assert.Len(t, s, 2*beep+gap)
	for _, v := range s[beep : beep+gap] {
		assert.Equal(t, int16(0), v)
	}
	assert.Equal(t, s[:beep], s[beep+gap:])
}

func TestPCMBytes(t *testing.T) {
	b := pcmBytes([]int16{1, -2})
	assert.Len(t, b, 4)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(b))
	assert.Equal(t, int16(-2), int16(binary.LittleEndian.Uint16(b[2:])))
}

func TestDisable(t *testing.T) {
	Disable()
	assert.False(t, Enabled())
	Play(Start) // no-op once disabled
	Play(Kind(42))
}
