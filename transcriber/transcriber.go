package transcriber

import (
	"context"
	"fmt"
	"time"
)

// NetworkMetrics splits one upload into the phases the transcription log
// reports. ConnWait includes dialing when no idle connection was reused.
type NetworkMetrics struct {
	ConnWait   time.Duration
	Upload     time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.Upload + m.TTFB + m.Download
}

// Result is what a transcription endpoint returned for one upload.
type Result struct {
	Text    string
	Metrics *NetworkMetrics
}

// StatusError reports a non-2xx answer from the transcription endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription API error %d: %s", e.StatusCode, e.Body)
}

type Transcriber interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

type SessionConfig struct {
	Language string // optional hint, sent as a form field when set
}

type BatchStats struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	EncodeTimeMs     float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
}

type SessionResult struct {
	Text    string
	HasText bool
	Batch   *BatchStats
}

// Session accumulates captured PCM for one recording. Close uploads it and
// returns the transcription; Abort drops it without any network traffic.
type Session interface {
	Feed(pcm []byte)
	Close() (SessionResult, error)
	Abort()
}
