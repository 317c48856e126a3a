// Package recorder runs one microphone capture at a time, publishes a level
// meter while it runs and returns the transcription of the captured audio.
package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"natter/audio"
	"natter/encoder"
	"natter/log"
	"natter/transcriber"
)

const (
	// FloorDB is the level reported while idle and for digital silence.
	FloorDB = -160.0

	DefaultInterval = 200 * time.Millisecond

	fallbackFloorDB = -60.0
	fallbackStepDB  = 10.0
)

var (
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// Opener acquires a capture device for one recording. The controller closes
// it again when the recording stops.
type Opener func() (audio.CaptureDevice, error)

// DeviceOpener opens dev (nil for the system default) on ctx at the sample
// format the encoder expects.
func DeviceOpener(ctx audio.Context, dev *audio.DeviceInfo) Opener {
	return func() (audio.CaptureDevice, error) {
		return ctx.NewCapture(dev, audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		})
	}
}

type Option func(*Controller)

// WithInterval sets the level sampling period.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLevelFunc registers a callback that receives every published level in
// dBFS. It is called from the sampling goroutine.
func WithLevelFunc(fn func(db float64)) Option {
	return func(c *Controller) { c.onLevel = fn }
}

// WithLanguage passes a language hint to the transcription endpoint.
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithSilenceFunc registers a callback for the no-voice warning. It is
// called from the sampling goroutine.
func WithSilenceFunc(fn func(SilenceEvent)) Option {
	return func(c *Controller) { c.onSilence = fn }
}

// WithSilenceAfter sets how long a recording must stay without voice before
// SilenceWarn is raised.
func WithSilenceAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.silenceAfter = d
		}
	}
}

// WithRand replaces the source used for the fallback level walk.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rng = r }
}

type Controller struct {
	open     Opener
	tr       transcriber.Transcriber
	interval time.Duration
	onLevel  func(float64)
	language string
	rng      *rand.Rand

	onSilence    func(SilenceEvent)
	silenceAfter time.Duration

	mu       sync.Mutex
	active   bool
	level    float64
	started  time.Time
	capture  audio.CaptureDevice
	sess     transcriber.Session
	voice    *voiceDetector
	cancel   context.CancelFunc
	stopTick chan struct{}
	tickDone chan struct{}

	// Written by the capture callback, drained by the sampler.
	statMu  sync.Mutex
	stopped bool
	frames  uint64
	sumSq   float64
	samples int
}

func New(open Opener, tr transcriber.Transcriber, opts ...Option) *Controller {
	c := &Controller{
		open:     open,
		tr:       tr,
		interval: DefaultInterval,
		level:    FloorDB,

		silenceAfter: DefaultSilenceAfter,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6e61747465)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Level is the most recently published level in dBFS.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Elapsed is the time since the running recording started, or 0.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0
	}
	return time.Since(c.started)
}

// Start opens the microphone and begins streaming audio into a new
// transcription session. A refused or failing device yields
// ErrPermissionDenied and leaves the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrAlreadyRecording
	}

	capture, err := c.open()
	if err != nil {
		log.Warnf("microphone open failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, err := c.tr.NewSession(sessCtx, transcriber.SessionConfig{Language: c.language})
	if err != nil {
		cancel()
		capture.Close()
		return fmt.Errorf("starting transcription session: %w", err)
	}

	c.statMu.Lock()
	c.stopped = false
	c.frames = 0
	c.sumSq = 0
	c.samples = 0
	c.statMu.Unlock()

	voice := &voiceDetector{}
	capture.SetCallback(func(data []byte, frameCount uint32) {
		c.statMu.Lock()
		if c.stopped {
			c.statMu.Unlock()
			return
		}
		c.frames += uint64(frameCount)
		for i := 0; i+1 < len(data); i += 2 {
			s := float64(int16(binary.LittleEndian.Uint16(data[i:]))) / 32768.0
			c.sumSq += s * s
			c.samples++
		}
		c.statMu.Unlock()

		if len(data) > 0 {
			voice.Process(data)
			pcm := make([]byte, len(data))
			copy(pcm, data)
			sess.Feed(pcm)
		}
	})

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		sess.Abort()
		cancel()
		log.Warnf("microphone start failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	c.active = true
	c.started = time.Now()
	c.capture = capture
	c.sess = sess
	c.voice = voice
	c.cancel = cancel
	c.stopTick = make(chan struct{})
	c.tickDone = make(chan struct{})
	go c.sampleLoop(c.stopTick, c.tickDone, voice)

	log.Info("recording_start")
	return nil
}

func (c *Controller) sampleLoop(stop <-chan struct{}, done chan<- struct{}, voice *voiceDetector) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	mon := newSilenceMonitor(c.interval, c.silenceAfter)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.publish(c.sample())
			if ev := mon.Tick(voice.HasSpeechTick()); ev != SilenceNone && c.onSilence != nil {
				c.onSilence(ev)
			}
		}
	}
}

// sample computes the next level: measured when PCM arrived since the last
// tick, a bounded random walk otherwise.
func (c *Controller) sample() float64 {
	c.statMu.Lock()
	sumSq, n := c.sumSq, c.samples
	c.sumSq, c.samples = 0, 0
	c.statMu.Unlock()

	if n > 0 {
		return rmsToDB(math.Sqrt(sumSq / float64(n)))
	}

	c.mu.Lock()
	prev := c.level
	c.mu.Unlock()
	step := (c.rng.Float64()*2 - 1) * fallbackStepDB
	return clamp(prev+step, fallbackFloorDB, 0)
}

func (c *Controller) publish(db float64) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.level = db
	c.mu.Unlock()
	if c.onLevel != nil {
		c.onLevel(db)
	}
}

// ended is what halt hands back from the recording it closed down.
type ended struct {
	sess   transcriber.Session
	voice  *voiceDetector
	cancel context.CancelFunc
	frames uint64
	dur    time.Duration
}

// halt closes the microphone and sampler of the running recording and
// resets the controller to idle. The session is left to the caller.
func (c *Controller) halt() (ended, bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ended{}, false
	}
	e := ended{sess: c.sess, voice: c.voice, cancel: c.cancel, dur: time.Since(c.started)}
	capture := c.capture
	stopTick, tickDone := c.stopTick, c.tickDone
	c.active = false
	c.level = FloorDB
	c.capture, c.sess, c.voice, c.cancel = nil, nil, nil, nil
	c.mu.Unlock()

	close(stopTick)
	<-tickDone

	capture.Stop()
	capture.ClearCallback()
	capture.Close()

	c.statMu.Lock()
	c.stopped = true
	e.frames = c.frames
	c.statMu.Unlock()

	if c.onLevel != nil {
		c.onLevel(FloorDB)
	}

	total, speech := e.voice.Stats()
	log.Info(fmt.Sprintf("recording_stop frames=%d dur=%s voice=%t speech=%d/%d",
		e.frames, e.dur.Round(time.Millisecond), e.voice.Detected(), speech, total))
	return e, true
}

// Discard ends the running recording without uploading it. It reports
// whether a recording was running.
func (c *Controller) Discard() bool {
	e, ok := c.halt()
	if !ok {
		return false
	}
	e.sess.Abort()
	e.cancel()
	log.Info("recording_discarded")
	return true
}

// Stop ends the running recording and returns its transcription. It returns
// "" when nothing was recording, when no audio was captured, or when the
// upload failed; failures are logged only. Cancelling ctx aborts the upload.
func (c *Controller) Stop(ctx context.Context) string {
	e, ok := c.halt()
	if !ok {
		return ""
	}
	sess, cancel := e.sess, e.cancel
	defer cancel()

	if e.frames == 0 {
		sess.Abort()
		return ""
	}

	release := context.AfterFunc(ctx, cancel)
	defer release()

	result, err := sess.Close()
	if err != nil {
		log.Errorf("transcription failed: %v", err)
		return ""
	}
	if b := result.Batch; b != nil {
		log.TranscriptionMetrics(log.TranscriptionMetricsData{
			AudioLengthS:     b.AudioLengthS,
			RawSizeKB:        b.RawSizeKB,
			CompressedSizeKB: b.CompressedSizeKB,
			EncodeTimeMs:     b.EncodeTimeMs,
			TTFBMs:           b.TTFBMs,
			TotalTimeMs:      b.TotalTimeMs,
			ConnReused:       b.ConnReused,
		})
	}
	if !result.HasText {
		return ""
	}
	return result.Text
}

func rmsToDB(rms float64) float64 {
	if rms <= 0 {
		return FloorDB
	}
	return clamp(20*math.Log10(rms), FloorDB, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
