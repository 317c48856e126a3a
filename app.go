package main

import (
	"context"
	"errors"
	"sync"

	"natter/account"
	"natter/attachment"
	"natter/chatstream"
	"natter/clipboard"
	"natter/config"
	"natter/conversation"
	"natter/cue"
	"natter/log"
	"natter/recorder"
	"natter/transcriber"
)

var errNoReply = errors.New("no assistant reply to copy yet")

// app wires the core packages together for one process. Both front ends
// call into it; it reports back through an EventSink.
type app struct {
	cfg      config.Config
	accounts *account.Store
	conv     *conversation.Buffer
	prep     *attachment.Preparator
	chat     *chatstream.Client
	rec      *recorder.Controller
	sink     EventSink
	cues     bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	streams sync.WaitGroup
	active  int
}

type appDeps struct {
	open        recorder.Opener
	transcriber transcriber.Transcriber
	chatOpts    []chatstream.Option
	cues        bool
}

func newApp(cfg config.Config, deps appDeps, sink EventSink) *app {
	if sink == nil {
		sink = nopSink{}
	}
	a := &app{
		cfg:      cfg,
		accounts: account.NewStore(),
		sink:     sink,
		cues:     deps.cues,
	}

	var prepOpts []attachment.Option
	if cfg.Platform != "" {
		prepOpts = append(prepOpts, attachment.WithPlatform(cfg.Platform))
	}
	a.prep = attachment.NewPreparator(prepOpts...)
	a.conv = conversation.New(conversation.WithReveal(sink.Reveal))

	chatOpts := append([]chatstream.Option{chatstream.WithDetail(cfg.ImageDetail)}, deps.chatOpts...)
	a.chat = chatstream.New(cfg.ChatURL(), cfg.APIKey, cfg.Model, chatOpts...)

	tr := deps.transcriber
	if tr == nil {
		tr = transcriber.NewRemote(cfg.SpeechURL(), cfg.APIKey)
	}
	a.rec = recorder.New(deps.open, tr,
		recorder.WithLevelFunc(sink.AudioLevel),
		recorder.WithSilenceFunc(func(ev recorder.SilenceEvent) {
			sink.SilenceWarning(ev == recorder.SilenceWarn)
		}),
	)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a
}

// login starts a new session with an empty conversation.
func (a *app) login(email, password string) error {
	if _, err := a.accounts.Login(email, password); err != nil {
		return err
	}
	a.conv.Reset()
	return nil
}

// logout tears down the session: running streams are cancelled, keeping
// whatever text they had produced, and a running recording is discarded
// without an upload. The conversation stays readable until the next login.
func (a *app) logout() {
	a.teardown()
	a.accounts.Logout()
}

func (a *app) teardown() {
	a.mu.Lock()
	a.cancel()
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	if a.rec.Discard() {
		a.sink.RecordingChanged(false)
	}
	a.streams.Wait()
}

func (a *app) sessionContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *app) pickImage(source string) error {
	d, err := a.prep.PickImage(source)
	if err != nil {
		log.Warnf("image pick: %v", err)
		return err
	}
	a.conv.SetPending(d)
	return nil
}

func (a *app) pickFile(source, mediaType string) error {
	d, err := a.prep.PickFile(source, "", mediaType)
	if err != nil {
		log.Warnf("file pick: %v", err)
		return err
	}
	a.conv.SetPending(d)
	return nil
}

// send dispatches the pending input. When the send produced a reply
// placeholder the completion is streamed into it on a new goroutine.
func (a *app) send() (conversation.Dispatch, bool) {
	d, ok := a.conv.Send(a.prep)
	if !ok || !d.HasReply() {
		return d, ok
	}

	var img *chatstream.Image
	if d.ImageBase64 != "" {
		img = &chatstream.Image{MIME: d.ImageMIME, Base64: d.ImageBase64}
	}

	ctx := a.sessionContext()
	a.streams.Add(1)
	go func() {
		defer a.streams.Done()
		a.runStream(ctx, d, img)
	}()
	return d, true
}

func (a *app) runStream(ctx context.Context, d conversation.Dispatch, img *chatstream.Image) {
	id := d.Reply.ID()
	obs := chatstream.ObserverFuncs{
		OnLoading: a.setLoading,
		OnPartial: func(text string) {
			if err := a.conv.Update(d.Reply, text); err != nil {
				log.Warnf("reply update: %v", err)
				return
			}
			a.sink.ReplyUpdated(id, text)
		},
	}

	_, err := a.chat.Stream(ctx, d.Prompt, img, obs)
	if err := a.conv.Finish(d.Reply); err != nil {
		log.Warnf("reply finish: %v", err)
	}
	a.sink.ReplyFinished(id, err)
}

// setLoading folds the loading flags of concurrent streams into one.
func (a *app) setLoading(loading bool) {
	a.mu.Lock()
	if loading {
		a.active++
	} else {
		a.active--
	}
	busy := a.active > 0
	a.mu.Unlock()
	a.sink.StreamLoading(busy)
}

func (a *app) waitStreams() {
	a.streams.Wait()
}

func (a *app) startRecording() error {
	if err := a.rec.Start(a.sessionContext()); err != nil {
		a.cue(cue.Error)
		return err
	}
	a.cue(cue.Start)
	a.sink.RecordingChanged(true)
	return nil
}

// stopRecording uploads the recording and merges the transcription into the
// pending input. It blocks for the upload.
func (a *app) stopRecording() string {
	if !a.rec.Active() {
		return ""
	}
	text := a.rec.Stop(a.sessionContext())
	a.cue(cue.End)
	a.sink.RecordingChanged(false)
	a.conv.MergeTranscription(text)
	a.sink.Transcription(text)
	return text
}

func (a *app) cue(k cue.Kind) {
	if a.cues {
		cue.Play(k)
	}
}

func (a *app) copyLastReply() error {
	text, ok := a.conv.LastReply()
	if !ok {
		return errNoReply
	}
	return clipboard.Copy(text)
}

func (a *app) close() {
	a.teardown()
	log.SessionEnd(a.conv.Len())
}
