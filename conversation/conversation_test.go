package conversation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natter/attachment"
)

// stubPreparer encodes every image unless fail is set.
type stubPreparer struct {
	fail  bool
	calls int
}

func (s *stubPreparer) Prepare(d attachment.Descriptor) attachment.Prepared {
	s.calls++
	p := attachment.Prepared{Descriptor: d}
	switch d.Kind {
	case attachment.KindImage:
		if !s.fail {
			p.ImageBase64 = "aGVsbG8="
			p.ImageMIME = "image/png"
		}
	case attachment.KindFile:
		p.Document = &attachment.Document{Ref: d.Source, Name: d.Name, MediaType: d.MediaType}
	}
	return p
}

func TestSendBlankIsNoop(t *testing.T) {
	b := New()
	prep := &stubPreparer{}
	for _, in := range []string{"", "   ", "\n\t"} {
		b.SetInput(in)
		_, ok := b.Send(prep)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, prep.calls)
}

func TestSendTextAppendsUserAndPlaceholder(t *testing.T) {
	b := New()
	b.SetInput("  hello  ")

	d, ok := b.Send(&stubPreparer{})
	require.True(t, ok)
	assert.True(t, d.HasReply())
	assert.Equal(t, "hello", d.Prompt)

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[0].Text)
	assert.True(t, entries[0].Final)
	assert.Equal(t, RoleAssistant, entries[1].Role)
	assert.Equal(t, "", entries[1].Text)
	assert.False(t, entries[1].Final)
	assert.Equal(t, d.Reply.ID(), entries[1].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	assert.Equal(t, "", b.Input())
}

func TestSendImageOnly(t *testing.T) {
	b := New()
	b.SetPending(attachment.Descriptor{Kind: attachment.KindImage, Source: "/tmp/cat.png"})

	d, ok := b.Send(&stubPreparer{})
	require.True(t, ok)
	assert.True(t, d.HasReply())
	assert.Equal(t, "aGVsbG8=", d.ImageBase64)
	assert.Equal(t, "image/png", d.ImageMIME)

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "/tmp/cat.png", entries[0].ImageRef)

	_, pending := b.Pending()
	assert.False(t, pending)
}

func TestSendImageReadFailureStillAttachesReference(t *testing.T) {
	b := New()
	b.SetPending(attachment.Descriptor{Kind: attachment.KindImage, Source: "/tmp/gone.png"})

	d, ok := b.Send(&stubPreparer{fail: true})
	require.True(t, ok)
	assert.False(t, d.HasReply())

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/tmp/gone.png", entries[0].ImageRef)
}

func TestSendFileOnlyHasNoPlaceholder(t *testing.T) {
	b := New()
	b.SetPending(attachment.Descriptor{
		Kind: attachment.KindFile, Source: "/docs/a.pdf", Name: "a.pdf", MediaType: "application/pdf",
	})

	d, ok := b.Send(&stubPreparer{})
	require.True(t, ok)
	assert.False(t, d.HasReply())

	entries := b.Entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Document)
	assert.Equal(t, "a.pdf", entries[0].Document.Name)
}

func TestSendFileWithText(t *testing.T) {
	b := New()
	b.SetInput("summarize this")
	b.SetPending(attachment.Descriptor{Kind: attachment.KindFile, Source: "/docs/a.txt", Name: "a.txt", MediaType: "text/plain"})

	d, ok := b.Send(&stubPreparer{})
	require.True(t, ok)
	assert.True(t, d.HasReply())
	assert.Len(t, b.Entries(), 2)
}

func TestUpdateAndFinish(t *testing.T) {
	b := New()
	b.SetInput("hi")
	d, _ := b.Send(&stubPreparer{})

	require.NoError(t, b.Update(d.Reply, "Hel"))
	require.NoError(t, b.Update(d.Reply, "Hello"))
	e, ok := b.Entry(d.Reply)
	require.True(t, ok)
	assert.Equal(t, "Hello", e.Text)

	require.NoError(t, b.Finish(d.Reply))
	require.NoError(t, b.Finish(d.Reply))
	assert.ErrorIs(t, b.Update(d.Reply, "late"), ErrEntryFinal)

	e, _ = b.Entry(d.Reply)
	assert.Equal(t, "Hello", e.Text)
	assert.True(t, e.Final)

	reply, ok := b.LastReply()
	assert.True(t, ok)
	assert.Equal(t, "Hello", reply)
}

func TestUpdateUnknownHandle(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Update(Handle{}, "x"), ErrUnknownEntry)
	assert.ErrorIs(t, b.Finish(Handle{id: "nope"}), ErrUnknownEntry)

	other := New()
	other.SetInput("q")
	d, _ := other.Send(&stubPreparer{})
	assert.ErrorIs(t, b.Update(d.Reply, "x"), ErrUnknownEntry)
}

func TestUpdateTargetsItsOwnPlaceholder(t *testing.T) {
	b := New()
	b.SetInput("first")
	first, _ := b.Send(&stubPreparer{})
	b.SetInput("second")
	second, _ := b.Send(&stubPreparer{})

	require.NoError(t, b.Update(first.Reply, "answer one"))
	require.NoError(t, b.Update(second.Reply, "answer two"))

	entries := b.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "answer one", entries[1].Text)
	assert.Equal(t, "answer two", entries[3].Text)
}

func TestPendingReplaceAndClear(t *testing.T) {
	b := New()
	initial, had := b.Pending()

	b.SetPending(attachment.Descriptor{Kind: attachment.KindImage, Source: "a"})
	b.SetPending(attachment.Descriptor{Kind: attachment.KindFile, Source: "b"})
	d, ok := b.Pending()
	require.True(t, ok)
	assert.Equal(t, "b", d.Source)

	b.ClearPending()
	cleared, has := b.Pending()
	assert.Equal(t, had, has)
	assert.Equal(t, initial, cleared)
}

func TestMergeTranscription(t *testing.T) {
	b := New()
	b.SetInput("look at")
	b.MergeTranscription("")
	assert.Equal(t, "look at", b.Input())
	b.MergeTranscription("this picture")
	assert.Equal(t, "look at this picture", b.Input())
}

func TestMergeTranscript(t *testing.T) {
	assert.Equal(t, "what", MergeTranscript("what", ""))
	assert.Equal(t, " hi", MergeTranscript("", "hi"))
	assert.Equal(t, "what is this", MergeTranscript("what is", "this"))
}

func TestResetDropsEverything(t *testing.T) {
	b := New()
	b.SetInput("question")
	d, ok := b.Send(&stubPreparer{})
	require.True(t, ok)
	b.SetInput("draft")
	b.SetPending(attachment.Descriptor{Kind: attachment.KindImage, Source: "/tmp/a.png"})

	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.Input())
	_, pending := b.Pending()
	assert.False(t, pending)
	assert.ErrorIs(t, b.Update(d.Reply, "late"), ErrUnknownEntry)

	b.SetInput("again")
	_, ok = b.Send(&stubPreparer{})
	require.True(t, ok)
	assert.Equal(t, 2, b.Len())
}

func TestRevealFiresAfterMutation(t *testing.T) {
	var fired atomic.Int32
	done := make(chan struct{}, 8)
	b := New(WithRevealDelay(5*time.Millisecond), WithReveal(func() {
		fired.Add(1)
		done <- struct{}{}
	}))

	b.SetInput("hi")
	d, _ := b.Send(&stubPreparer{})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reveal not fired after send")
	}

	require.NoError(t, b.Update(d.Reply, "x"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reveal not fired after update")
	}
	assert.GreaterOrEqual(t, fired.Load(), int32(2))
}

func TestConcurrentUpdatesKeepOrder(t *testing.T) {
	b := New()
	b.SetInput("q")
	d, _ := b.Send(&stubPreparer{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.SetInput("typing")
			_ = b.Entries()
		}()
	}
	text := ""
	for _, frag := range []string{"a", "b", "c", "d"} {
		text += frag
		require.NoError(t, b.Update(d.Reply, text))
	}
	wg.Wait()

	e, _ := b.Entry(d.Reply)
	assert.Equal(t, "abcd", e.Text)
}
