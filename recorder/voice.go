package recorder

import (
	"encoding/binary"
	"math"
	"sync"

	"natter/encoder"
)

const (
	voiceFrameMs    = 20
	voiceFrameBytes = encoder.SampleRate * voiceFrameMs / 1000 * 2

	// Consecutive speech frames needed to confirm voice.
	voiceDebounce = 3

	// Frames louder than this count as speech.
	voiceThresholdDB = -45.0

	// Share of speech frames for a tick to count as speaking.
	speechThreshold = 0.10
)

// voiceDetector classifies 20ms frames of 16-bit mono PCM as speech by
// their energy.
type voiceDetector struct {
	mu         sync.Mutex
	buf        []byte
	detected   bool
	speechRun  int
	total      int
	speech     int
	tickTotal  int
	tickSpeech int
}

func (v *voiceDetector) Process(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.buf = append(v.buf, data...)
	for len(v.buf) >= voiceFrameBytes {
		frame := v.buf[:voiceFrameBytes]
		v.buf = v.buf[voiceFrameBytes:]

		v.total++
		if frameDB(frame) >= voiceThresholdDB {
			v.speech++
			v.speechRun++
			if v.speechRun >= voiceDebounce {
				v.detected = true
			}
		} else {
			v.speechRun = 0
		}
	}
}

// Detected reports whether a debounced run of speech frames was seen.
func (v *voiceDetector) Detected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.detected
}

func (v *voiceDetector) Stats() (total, speech int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total, v.speech
}

// HasSpeechTick reports whether enough of the frames since the previous
// call were speech.
func (v *voiceDetector) HasSpeechTick() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.total - v.tickTotal
	s := v.speech - v.tickSpeech
	v.tickTotal, v.tickSpeech = v.total, v.speech
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func frameDB(frame []byte) float64 {
	var sumSq float64
	n := len(frame) / 2
	if n == 0 {
		return FloorDB
	}
	for i := 0; i+1 < len(frame); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i:]))) / 32768.0
		sumSq += s * s
	}
	return rmsToDB(math.Sqrt(sumSq / float64(n)))
}
