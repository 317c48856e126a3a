package recorder

import "time"

const (
	DefaultSilenceAfter = 8 * time.Second

	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear the warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone  SilenceEvent = iota
	SilenceWarn               // no voice for the whole window
	SilenceClear              // speech resumed after a warning
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceClear:
		return "clear"
	default:
		return "none"
	}
}

// silenceMonitor watches per-tick speech flags over a sliding window.
type silenceMonitor struct {
	window []bool
	ticks  int
	warned bool
}

func newSilenceMonitor(interval, after time.Duration) *silenceMonitor {
	n := int(after / interval)
	if n < 1 {
		n = 1
	}
	return &silenceMonitor{window: make([]bool, n)}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, len(m.window))
	if n == 0 {
		return 1
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+len(m.window))%len(m.window)] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	m.window[m.ticks%len(m.window)] = hasSpeech
	m.ticks++

	r := m.ratio()
	if m.ticks >= len(m.window) && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceClear
	}
	return SilenceNone
}
