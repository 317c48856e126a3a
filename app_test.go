package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natter/account"
	"natter/audio"
	"natter/chatstream"
	"natter/config"
	"natter/conversation"
	"natter/recorder"
	"natter/transcriber"
)

type sinkRecorder struct {
	nopSink
	mu       sync.Mutex
	finished []string
	errs     []error
	loading  []bool
	texts    []string
}

func (s *sinkRecorder) StreamLoading(l bool) {
	s.mu.Lock()
	s.loading = append(s.loading, l)
	s.mu.Unlock()
}

func (s *sinkRecorder) ReplyFinished(id string, err error) {
	s.mu.Lock()
	s.finished = append(s.finished, id)
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *sinkRecorder) Transcription(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
	return cfg
}

func pcmCapture(samples int) *audio.FakeCapture {
	pcm := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%300))
	}
	return audio.NewFakeCapture(pcm, false)
}

func newTestApp(t *testing.T, srv *httptest.Server, tr transcriber.Transcriber, sink EventSink) *app {
	t.Helper()
	capture := pcmCapture(1600)
	a := newApp(testConfig(t, srv.URL), appDeps{
		open:        func() (audio.CaptureDevice, error) { return capture, nil },
		transcriber: tr,
		chatOpts:    []chatstream.Option{chatstream.WithHTTPClient(srv.Client())},
	}, sink)
	t.Cleanup(a.close)
	return a
}

func TestAppSendStreamsIntoPlaceholder(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/openai/chat", r.URL.Path)
		for _, frag := range []string{"Hi", " there", "!"} {
			fmt.Fprintf(w, "data: {\"content\":%q}\n\n", frag)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	sink := &sinkRecorder{}
	a := newTestApp(t, srv, transcriber.NewFake("", nil), sink)
	require.NoError(t, a.login(account.DemoEmail, account.DemoPassword))

	a.conv.SetInput("hello")
	d, ok := a.send()
	require.True(t, ok)
	require.True(t, d.HasReply())
	a.waitStreams()

	entries := a.conv.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Hi there!", entries[1].Text)
	assert.True(t, entries[1].Final)
	assert.Equal(t, int32(1), requests.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{d.Reply.ID()}, sink.finished)
	assert.NoError(t, sink.errs[0])
	assert.Equal(t, []bool{true, false}, sink.loading)
}

func TestAppFileOnlySendDispatchesNothing(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := newTestApp(t, srv, transcriber.NewFake("", nil), nil)
	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("plain notes\n"), 0644))

	require.NoError(t, a.pickFile(doc, ""))
	d, ok := a.send()
	require.True(t, ok)
	assert.False(t, d.HasReply())
	a.waitStreams()

	assert.Equal(t, 1, a.conv.Len())
	assert.Equal(t, int32(0), requests.Load())
}

func TestAppUnsupportedFileLeavesPendingUnset(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a := newTestApp(t, srv, transcriber.NewFake("", nil), nil)
	err := a.pickFile("/tmp/picture.png", "image/png")
	assert.Error(t, err)
	_, pending := a.conv.Pending()
	assert.False(t, pending)
}

func TestAppRecordingMergesTranscription(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sink := &sinkRecorder{}
	tr := transcriber.NewFake("describe this image", nil)
	a := newTestApp(t, srv, tr, sink)

	a.conv.SetInput("please")
	require.NoError(t, a.startRecording())
	assert.ErrorIs(t, a.startRecording(), recorder.ErrAlreadyRecording)

	assert.Equal(t, "describe this image", a.stopRecording())
	assert.Equal(t, "please describe this image", a.conv.Input())
	assert.Equal(t, "", a.stopRecording())
	assert.Equal(t, 1, tr.Uploads())
}

func TestAppLogoutCancelsStreamKeepingPartial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"content\":\"half an ans\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	updated := make(chan struct{}, 1)
	a := newTestApp(t, srv, transcriber.NewFake("", nil), &updateSink{ch: updated})
	require.NoError(t, a.login(account.DemoEmail, account.DemoPassword))
	a.conv.SetInput("tell me a story")
	d, _ := a.send()

	select {
	case <-updated:
	case <-time.After(5 * time.Second):
		t.Fatal("no fragment received")
	}
	a.logout()

	e, ok := a.conv.Entry(d.Reply)
	require.True(t, ok)
	assert.Equal(t, "half an ans", e.Text)
	assert.True(t, e.Final)
	assert.False(t, a.accounts.Authenticated())
}

type updateSink struct {
	nopSink
	ch chan struct{}
}

func (s *updateSink) ReplyUpdated(string, string) {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func TestAppLoginStartsEmptyConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "data: {\"content\":\"ok\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	a := newTestApp(t, srv, transcriber.NewFake("", nil), nil)
	require.NoError(t, a.login(account.DemoEmail, account.DemoPassword))
	a.conv.SetInput("first session")
	_, ok := a.send()
	require.True(t, ok)
	a.conv.SetInput("unsent")

	a.logout()
	assert.Equal(t, 2, a.conv.Len())

	assert.Error(t, a.login(account.DemoEmail, "wrong"))
	assert.Equal(t, 2, a.conv.Len())

	require.NoError(t, a.login(account.DemoEmail, account.DemoPassword))
	assert.Equal(t, 0, a.conv.Len())
	assert.Equal(t, "", a.conv.Input())
}

type recordingSink struct {
	nopSink
	mu     sync.Mutex
	states []bool
	texts  []string
}

func (s *recordingSink) RecordingChanged(active bool) {
	s.mu.Lock()
	s.states = append(s.states, active)
	s.mu.Unlock()
}

func (s *recordingSink) Transcription(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func TestAppLogoutDiscardsRecording(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sink := &recordingSink{}
	tr := transcriber.NewFake("never sent", nil)
	a := newTestApp(t, srv, tr, sink)
	require.NoError(t, a.login(account.DemoEmail, account.DemoPassword))
	require.NoError(t, a.startRecording())

	a.logout()

	assert.False(t, a.rec.Active())
	assert.Equal(t, 0, tr.Uploads())
	assert.Equal(t, 1, tr.Aborts())
	assert.Equal(t, "", a.stopRecording())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []bool{true, false}, sink.states)
	assert.Empty(t, sink.texts)
}

func TestAppCopyLastReplyWithoutReply(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	a := newTestApp(t, srv, transcriber.NewFake("", nil), nil)
	assert.ErrorIs(t, a.copyLastReply(), errNoReply)
	assert.Equal(t, []conversation.Entry{}, a.conv.Entries())
}
