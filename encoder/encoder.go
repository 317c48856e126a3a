package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Encoder turns blocks of mono PCM16 samples into an upload-ready container.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	// Ext is the filename extension (without dot) of the produced container.
	Ext() string
	// MIMEType is the media type sent with the upload.
	MIMEType() string
}
