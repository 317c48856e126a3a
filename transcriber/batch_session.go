package transcriber

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"time"

	"natter/encoder"
)

var ErrSessionClosed = errors.New("transcription session already closed")

// upload is one finished recording ready to be posted.
type upload struct {
	audio    []byte
	ext      string
	mimeType string
	language string
}

type transcribeFunc func(ctx context.Context, up upload) (*Result, error)

// batchSession encodes PCM into FLAC while the microphone is still open and
// uploads the whole file once on Close.
type batchSession struct {
	ctx        context.Context
	cfg        SessionConfig
	transcribe transcribeFunc
	encoder    encoder.Encoder
	blockChan  chan []int16
	encodeDone chan struct{}
	sampleBuf  []int16
	bufMu      sync.Mutex
	closed     bool
}

func newBatchSession(ctx context.Context, cfg SessionConfig, transcribe transcribeFunc) (*batchSession, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}

	bs := &batchSession{
		ctx:        ctx,
		cfg:        cfg,
		transcribe: transcribe,
		encoder:    enc,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(bs.encodeDone)
		for block := range bs.blockChan {
			start := time.Now()
			bs.encoder.EncodeBlock(block)
			bs.encoder.AddEncodeTime(time.Since(start))
		}
	}()

	return bs, nil
}

func (bs *batchSession) Feed(pcm []byte) {
	bs.bufMu.Lock()
	defer bs.bufMu.Unlock()
	if bs.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		bs.sampleBuf = append(bs.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	for len(bs.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, bs.sampleBuf[:encoder.BlockSize])
		bs.sampleBuf = bs.sampleBuf[encoder.BlockSize:]
		bs.blockChan <- block
	}
}

// finish flushes buffered samples and waits for the encoder goroutine.
// It reports false when the session was already finished.
func (bs *batchSession) finish() bool {
	bs.bufMu.Lock()
	if bs.closed {
		bs.bufMu.Unlock()
		return false
	}
	bs.closed = true
	if len(bs.sampleBuf) > 0 {
		partial := make([]int16, len(bs.sampleBuf))
		copy(partial, bs.sampleBuf)
		bs.sampleBuf = nil
		bs.blockChan <- partial
	}
	close(bs.blockChan)
	bs.bufMu.Unlock()

	<-bs.encodeDone
	return true
}

func (bs *batchSession) Close() (SessionResult, error) {
	if !bs.finish() {
		return SessionResult{}, ErrSessionClosed
	}
	if err := bs.encoder.Close(); err != nil {
		return SessionResult{}, err
	}

	enc := bs.encoder
	audioData := enc.Bytes()
	result, err := bs.transcribe(bs.ctx, upload{
		audio:    audioData,
		ext:      enc.Ext(),
		mimeType: enc.MIMEType(),
		language: bs.cfg.Language,
	})
	if err != nil {
		return SessionResult{}, err
	}

	text := strings.TrimSpace(result.Text)
	rawSize := enc.TotalFrames() * 2

	stats := &BatchStats{
		AudioLengthS:     float64(enc.TotalFrames()) / float64(encoder.SampleRate),
		RawSizeKB:        float64(rawSize) / 1024,
		CompressedSizeKB: float64(len(audioData)) / 1024,
		EncodeTimeMs:     float64(enc.EncodeTime().Milliseconds()),
	}
	if m := result.Metrics; m != nil {
		stats.TTFBMs = float64(m.TTFB.Milliseconds())
		stats.TotalTimeMs = float64(m.Sum().Milliseconds())
		stats.ConnReused = m.ConnReused
	}

	return SessionResult{Text: text, HasText: text != "", Batch: stats}, nil
}

func (bs *batchSession) Abort() {
	if bs.finish() {
		bs.encoder.Close()
	}
}
