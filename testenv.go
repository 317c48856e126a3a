package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"natter/audio"
	"natter/config"
	"natter/encoder"
	"natter/log"
)

// lineSink prints app events as single lines for the headless driver.
type lineSink struct {
	nopSink
	mu  sync.Mutex
	out io.Writer
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *lineSink) ReplyFinished(id string, err error) {
	if err != nil {
		s.printf("REPLY_ERROR %s %v", id, err)
		return
	}
	s.printf("REPLY_DONE %s", id)
}

func (s *lineSink) RecordingChanged(active bool) {
	if active {
		s.printf("RECORDING on")
	} else {
		s.printf("RECORDING off")
	}
}

func (s *lineSink) SilenceWarning(active bool) {
	if active {
		s.printf("SILENCE on")
	} else {
		s.printf("SILENCE off")
	}
}

func (s *lineSink) Transcription(text string) {
	s.printf("TRANSCRIPT %q", text)
}

// runTestMode drives the app from stdin commands, with the microphone
// replaced by the PCM of wavPath. It returns the process exit code.
func runTestMode(cfg config.Config, wavPath string, realtime bool) int {
	fakeCtx, err := audio.NewFakeContext(wavPath, realtime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	var (
		captureMu   sync.Mutex
		lastCapture *audio.FakeCapture
	)
	open := func() (audio.CaptureDevice, error) {
		c, err := fakeCtx.NewCapture(nil, audio.CaptureConfig{
			SampleRate: encoder.SampleRate, Channels: encoder.Channels,
		})
		if err != nil {
			return nil, err
		}
		captureMu.Lock()
		lastCapture = c.(*audio.FakeCapture)
		captureMu.Unlock()
		return c, nil
	}

	sink := &lineSink{out: os.Stdout}
	a := newApp(cfg, appDeps{open: open}, sink)
	defer a.close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "LOGIN":
			email, password, _ := strings.Cut(arg, " ")
			if err := a.login(email, password); err != nil {
				sink.printf("LOGIN error: %v", err)
			} else {
				sink.printf("LOGIN ok")
			}
		case "LOGOUT":
			a.logout()
			sink.printf("LOGOUT ok")
		case "SAY":
			a.conv.SetInput(arg)
		case "INPUT":
			sink.printf("INPUT %q", a.conv.Input())
		case "IMAGE":
			if err := a.pickImage(arg); err != nil {
				sink.printf("ERROR %v", err)
			} else {
				sink.printf("PENDING image")
			}
		case "FILE":
			path, mediaType := splitMediaType(arg)
			if err := a.pickFile(path, mediaType); err != nil {
				sink.printf("ERROR %v", err)
			} else {
				d, _ := a.conv.Pending()
				sink.printf("PENDING file %s %s", d.Name, d.MediaType)
			}
		case "CLEAR":
			a.conv.ClearPending()
		case "SEND":
			d, ok := a.send()
			switch {
			case !ok:
				sink.printf("SENT nothing")
			case d.HasReply():
				sink.printf("SENT reply=%s", d.Reply.ID())
			default:
				sink.printf("SENT no_reply")
			}
		case "WAIT":
			a.waitStreams()
		case "RECORD":
			if err := a.startRecording(); err != nil {
				sink.printf("ERROR %v", err)
			}
		case "WAIT_AUDIO_DONE":
			captureMu.Lock()
			c := lastCapture
			captureMu.Unlock()
			if c != nil {
				<-c.AudioDone()
			}
		case "STOP":
			a.stopRecording()
		case "COPY":
			if err := a.copyLastReply(); err != nil {
				sink.printf("ERROR %v", err)
			} else {
				sink.printf("COPIED")
			}
		case "DUMP":
			for _, e := range a.conv.Entries() {
				var extra string
				if e.ImageRef != "" {
					extra += " image=" + e.ImageRef
				}
				if e.Document != nil {
					extra += fmt.Sprintf(" file=%s(%s)", e.Document.Name, e.Document.MediaType)
				}
				sink.printf("ENTRY %s final=%t text=%q%s", e.Role, e.Final, e.Text, extra)
			}
			sink.printf("END")
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return 0
		default:
			log.Warnf("test mode: unknown command %q", cmd)
			sink.printf("ERROR unknown command %s", cmd)
		}
	}
	return 0
}
