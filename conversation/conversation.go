// Package conversation holds the message log of one chat session together
// with the not yet sent input and attachment.
package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"natter/attachment"
	"natter/log"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const DefaultRevealDelay = 200 * time.Millisecond

var (
	ErrUnknownEntry = errors.New("unknown conversation entry")
	ErrEntryFinal   = errors.New("conversation entry is final")
)

type Entry struct {
	ID        string
	Role      Role
	Text      string
	ImageRef  string
	Document  *attachment.Document
	Final     bool
	CreatedAt time.Time
}

// Handle addresses one entry of the buffer that created it.
type Handle struct {
	id string
}

func (h Handle) Valid() bool { return h.id != "" }

func (h Handle) ID() string { return h.id }

// Preparer resolves a pending attachment at send time.
type Preparer interface {
	Prepare(d attachment.Descriptor) attachment.Prepared
}

// Dispatch is what a send hands to the completion client. Reply is only
// valid when a placeholder was appended.
type Dispatch struct {
	Prompt      string
	ImageBase64 string
	ImageMIME   string
	User        Handle
	Reply       Handle
}

func (d Dispatch) HasReply() bool { return d.Reply.Valid() }

type Option func(*Buffer)

// WithReveal registers fn to be called, after a short delay, whenever the
// log changes. Bursts of changes within the delay coalesce into one call.
func WithReveal(fn func()) Option {
	return func(b *Buffer) { b.reveal = fn }
}

func WithRevealDelay(d time.Duration) Option {
	return func(b *Buffer) { b.revealDelay = d }
}

type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int
	input   string
	pending *attachment.Descriptor

	reveal      func()
	revealDelay time.Duration
	revealTimer *time.Timer
}

func New(opts ...Option) *Buffer {
	b := &Buffer{
		index:       make(map[string]int),
		revealDelay: DefaultRevealDelay,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Buffer) SetInput(text string) {
	b.mu.Lock()
	b.input = text
	b.mu.Unlock()
}

func (b *Buffer) Input() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input
}

// MergeTranscript appends a space and text to input. Empty text leaves
// input unchanged.
func MergeTranscript(input, text string) string {
	if text == "" {
		return input
	}
	return input + " " + text
}

// MergeTranscription merges text into the pending input.
func (b *Buffer) MergeTranscription(text string) {
	b.mu.Lock()
	b.input = MergeTranscript(b.input, text)
	b.mu.Unlock()
}

// Reset drops every entry along with the pending input and attachment.
// Handles from before the reset no longer resolve.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	clear(b.index)
	b.input = ""
	b.pending = nil
	if b.revealTimer != nil {
		b.revealTimer.Stop()
		b.revealTimer = nil
	}
}

// SetPending replaces any pending attachment with d.
func (b *Buffer) SetPending(d attachment.Descriptor) {
	b.mu.Lock()
	b.pending = &d
	b.mu.Unlock()
}

func (b *Buffer) ClearPending() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

func (b *Buffer) Pending() (attachment.Descriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return attachment.Descriptor{}, false
	}
	return *b.pending, true
}

// Send turns the pending input and attachment into a user entry. It reports
// false and changes nothing when the input is blank and no attachment is
// pending. An empty assistant placeholder follows the user entry when there
// is text or an encoded image to answer.
func (b *Buffer) Send(prep Preparer) (Dispatch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := strings.TrimSpace(b.input)
	if text == "" && b.pending == nil {
		return Dispatch{}, false
	}

	var prepared attachment.Prepared
	if b.pending != nil {
		prepared = prep.Prepare(*b.pending)
	}

	user := Entry{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		Document:  prepared.Document,
		Final:     true,
		CreatedAt: time.Now(),
	}
	if prepared.Descriptor.Kind == attachment.KindImage {
		user.ImageRef = prepared.Descriptor.Source
	}
	b.appendLocked(user)
	log.ChatEntry(string(RoleUser), describe(user))

	b.input = ""
	b.pending = nil

	d := Dispatch{
		Prompt:      text,
		ImageBase64: prepared.ImageBase64,
		ImageMIME:   prepared.ImageMIME,
		User:        Handle{id: user.ID},
	}
	if text != "" || prepared.HasImagePayload() {
		reply := Entry{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			CreatedAt: time.Now(),
		}
		b.appendLocked(reply)
		d.Reply = Handle{id: reply.ID}
	}

	b.scheduleRevealLocked()
	return d, true
}

// Update replaces the text of the entry behind h.
func (b *Buffer) Update(h Handle, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.lookupLocked(h)
	if err != nil {
		return err
	}
	if e.Final {
		return ErrEntryFinal
	}
	e.Text = text
	b.scheduleRevealLocked()
	return nil
}

// Finish freezes the entry behind h. Finishing twice is a no-op.
func (b *Buffer) Finish(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.lookupLocked(h)
	if err != nil {
		return err
	}
	if e.Final {
		return nil
	}
	e.Final = true
	log.ChatEntry(string(e.Role), e.Text)
	b.scheduleRevealLocked()
	return nil
}

func (b *Buffer) Entry(h Handle) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.lookupLocked(h)
	if err != nil {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a snapshot of the log in order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// LastReply returns the text of the newest assistant entry with text.
func (b *Buffer) LastReply() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.entries) - 1; i >= 0; i-- {
		if e := b.entries[i]; e.Role == RoleAssistant && e.Text != "" {
			return e.Text, true
		}
	}
	return "", false
}

func (b *Buffer) appendLocked(e Entry) {
	b.index[e.ID] = len(b.entries)
	b.entries = append(b.entries, e)
}

func (b *Buffer) lookupLocked(h Handle) (*Entry, error) {
	i, ok := b.index[h.id]
	if !ok {
		return nil, ErrUnknownEntry
	}
	return &b.entries[i], nil
}

func (b *Buffer) scheduleRevealLocked() {
	if b.reveal == nil {
		return
	}
	if b.revealTimer != nil {
		b.revealTimer.Stop()
	}
	b.revealTimer = time.AfterFunc(b.revealDelay, b.reveal)
}

func describe(e Entry) string {
	parts := make([]string, 0, 3)
	if e.Text != "" {
		parts = append(parts, e.Text)
	}
	if e.ImageRef != "" {
		parts = append(parts, "[image "+e.ImageRef+"]")
	}
	if e.Document != nil {
		parts = append(parts, "[file "+e.Document.Name+" "+e.Document.MediaType+"]")
	}
	return strings.Join(parts, " ")
}
