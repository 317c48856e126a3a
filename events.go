package main

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless test driver receive the same chat and recording events.
type EventSink interface {
	StreamLoading(loading bool)
	ReplyUpdated(id, text string)
	ReplyFinished(id string, err error)
	RecordingChanged(active bool)
	AudioLevel(db float64)
	SilenceWarning(active bool)
	Transcription(text string)
	Reveal()
}

type nopSink struct{}

func (nopSink) StreamLoading(bool)          {}
func (nopSink) ReplyUpdated(string, string) {}
func (nopSink) ReplyFinished(string, error) {}
func (nopSink) RecordingChanged(bool)       {}
func (nopSink) AudioLevel(float64)          {}
func (nopSink) SilenceWarning(bool)         {}
func (nopSink) Transcription(string)        {}
func (nopSink) Reveal()                     {}
