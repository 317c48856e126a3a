// Package attachment turns picked images and documents into the form that is
// embedded in an outgoing message.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"natter/log"
)

type Kind int

const (
	KindImage Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	default:
		return "none"
	}
}

const (
	DefaultImageMIME     = "image/jpeg"
	DefaultMaxImageBytes = 20 << 20
)

var (
	ErrUnsupportedAttachment = errors.New("unsupported attachment")
	ErrRead                  = errors.New("attachment read failed")
	ErrNoSelection           = errors.New("nothing selected")
)

// UnsupportedError is returned when a document's media type is not on the
// allow-list.
type UnsupportedError struct {
	MediaType string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported file type %q: only PDF, Word and text documents can be attached", e.MediaType)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedAttachment }

// Descriptor is a picked but not yet sent attachment.
type Descriptor struct {
	Kind      Kind
	Source    string
	Name      string
	MediaType string
}

// Document is the packaged form of a file attachment. Its contents are never
// read.
type Document struct {
	Ref       string
	Name      string
	MediaType string
}

// Prepared is a descriptor resolved for sending. For images ImageBase64 is
// empty when the file could not be read; the descriptor is kept either way.
type Prepared struct {
	Descriptor  Descriptor
	ImageBase64 string
	ImageMIME   string
	Document    *Document
}

// HasImagePayload reports whether an encoded image is available.
func (p Prepared) HasImagePayload() bool {
	return p.ImageBase64 != ""
}

// DataURI renders the encoded image as a data: URI, or "" without payload.
func (p Prepared) DataURI() string {
	if p.ImageBase64 == "" {
		return ""
	}
	return "data:" + p.ImageMIME + ";base64," + p.ImageBase64
}

type Option func(*Preparator)

// WithPlatform overrides the GOOS value used for URI normalization.
func WithPlatform(platform string) Option {
	return func(p *Preparator) { p.platform = platform }
}

// WithMaxImageBytes caps the size of images that are encoded.
func WithMaxImageBytes(n int64) Option {
	return func(p *Preparator) {
		if n > 0 {
			p.maxImageBytes = n
		}
	}
}

type Preparator struct {
	platform      string
	maxImageBytes int64
}

func NewPreparator(opts ...Option) *Preparator {
	p := &Preparator{
		platform:      runtime.GOOS,
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NormalizeURI strips a leading file:// scheme on darwin and leaves the
// reference untouched elsewhere.
func NormalizeURI(uri, platform string) string {
	if platform == "darwin" {
		return strings.TrimPrefix(uri, "file://")
	}
	return uri
}

// localPath resolves a plain path or a file:// URL to a filesystem path.
func localPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, "file://") {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return u.Path, nil
}

// PickImage validates a picked image reference and returns its descriptor.
func (p *Preparator) PickImage(source string) (Descriptor, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Descriptor{}, ErrNoSelection
	}
	path, err := localPath(source)
	if err != nil {
		return Descriptor{}, fmt.Errorf("image pick: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("image pick: %w", err)
	}
	if info.IsDir() {
		return Descriptor{}, fmt.Errorf("image pick: %s is a directory", path)
	}
	return Descriptor{Kind: KindImage, Source: source, Name: filepath.Base(path)}, nil
}

// PickFile validates a picked document against the allow-list. An empty
// mediaType is sniffed from the file header.
func (p *Preparator) PickFile(source, name, mediaType string) (Descriptor, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Descriptor{}, ErrNoSelection
	}
	if mediaType == "" {
		path, err := localPath(source)
		if err != nil {
			return Descriptor{}, fmt.Errorf("file pick: %w", err)
		}
		m, err := mimetype.DetectFile(path)
		if err != nil {
			return Descriptor{}, fmt.Errorf("file pick: %w", err)
		}
		mediaType = m.String()
	}
	mediaType = baseMediaType(mediaType)
	if !Allowed(mediaType) {
		return Descriptor{}, &UnsupportedError{MediaType: mediaType}
	}
	return Descriptor{
		Kind:      KindFile,
		Source:    source,
		Name:      displayName(name, source),
		MediaType: mediaType,
	}, nil
}

var allowedDocuments = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// Allowed reports whether a document media type may be attached.
func Allowed(mediaType string) bool {
	mediaType = baseMediaType(mediaType)
	return allowedDocuments[mediaType] || strings.HasPrefix(mediaType, "text/")
}

func baseMediaType(mt string) string {
	mt, _, _ = strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func displayName(name, source string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	base := filepath.Base(strings.TrimPrefix(source, "file://"))
	if base == "." || base == "/" || base == "" {
		return "unknown"
	}
	return base
}

// Prepare resolves d for sending. Image read failures are logged and leave
// the payload empty.
func (p *Preparator) Prepare(d Descriptor) Prepared {
	out := Prepared{Descriptor: d}
	switch d.Kind {
	case KindImage:
		b64, mimeType, err := p.encodeImage(d.Source)
		if err != nil {
			log.Warnf("image encode: %v", err)
			return out
		}
		out.ImageBase64 = b64
		out.ImageMIME = mimeType
	case KindFile:
		out.Document = &Document{
			Ref:       d.Source,
			Name:      displayName(d.Name, d.Source),
			MediaType: d.MediaType,
		}
	}
	return out
}

func (p *Preparator) encodeImage(source string) (string, string, error) {
	path, err := localPath(NormalizeURI(source, p.platform))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	if info.Size() > p.maxImageBytes {
		return "", "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrRead, path, info.Size(), p.maxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrRead, err)
	}

	mimeType := DefaultImageMIME
	if m := mimetype.Detect(data); strings.HasPrefix(m.String(), "image/") {
		mimeType = baseMediaType(m.String())
	}
	return base64.StdEncoding.EncodeToString(data), mimeType, nil
}
