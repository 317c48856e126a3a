package transcriber

import (
	"context"
	"fmt"
	"sync"
)

// FakeTranscriber answers every session with a fixed text or error and
// counts what it was given.
type FakeTranscriber struct {
	text string
	err  error

	mu       sync.Mutex
	sessions int
	uploads  int
	aborts   int
	fed      int
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) NewSession(_ context.Context, _ SessionConfig) (Session, error) {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	return &fakeSession{parent: f}, nil
}

// Uploads is the number of sessions that reached Close.
func (f *FakeTranscriber) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *FakeTranscriber) Aborts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

func (f *FakeTranscriber) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

// FedBytes is the total PCM passed to Feed across all sessions.
func (f *FakeTranscriber) FedBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fed
}

type fakeSession struct {
	parent *FakeTranscriber
}

func (s *fakeSession) Feed(pcm []byte) {
	s.parent.mu.Lock()
	s.parent.fed += len(pcm)
	s.parent.mu.Unlock()
}

func (s *fakeSession) Close() (SessionResult, error) {
	f := s.parent
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()

	if f.err != nil {
		return SessionResult{}, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	return SessionResult{
		Text:    f.text,
		HasText: f.text != "",
		Batch:   &BatchStats{AudioLengthS: 1.0, TotalTimeMs: 10},
	}, nil
}

func (s *fakeSession) Abort() {
	s.parent.mu.Lock()
	s.parent.aborts++
	s.parent.mu.Unlock()
}
