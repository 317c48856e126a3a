package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natter/attachment"
	"natter/conversation"
	"natter/transcriber"
)

func newTestModel(t *testing.T) tuiModel {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	m := newTUIModel(newTestApp(t, srv, transcriber.NewFake("", nil), nil))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(tuiModel)
}

func press(t *testing.T, m tuiModel, keys ...tea.KeyMsg) tuiModel {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(tuiModel)
	}
	return m
}

func typed(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyTab   = tea.KeyMsg{Type: tea.KeyTab}
	keyCtrlG = tea.KeyMsg{Type: tea.KeyCtrlG}
	keyCtrlF = tea.KeyMsg{Type: tea.KeyCtrlF}
	keyCtrlX = tea.KeyMsg{Type: tea.KeyCtrlX}
	keyCtrlP = tea.KeyMsg{Type: tea.KeyCtrlP}
	keyCtrlS = tea.KeyMsg{Type: tea.KeyCtrlS}
)

func TestLoginScreen(t *testing.T) {
	m := newTestModel(t)
	require.Equal(t, screenLogin, m.screen)

	m.login.password.SetValue("wrong")
	m = press(t, m, keyEnter)
	assert.Equal(t, screenLogin, m.screen)
	assert.Contains(t, m.View(), "Invalid email or password")

	m.login.password.SetValue("password123")
	m = press(t, m, keyEnter)
	assert.Equal(t, screenChat, m.screen)
	assert.True(t, m.app.accounts.Authenticated())
	assert.Contains(t, m.View(), "John Doe")
}

func loggedIn(t *testing.T) tuiModel {
	t.Helper()
	return press(t, newTestModel(t), keyEnter)
}

func TestChatTypingSyncsInput(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, typed("hello"))
	assert.Equal(t, "hello", m.app.conv.Input())
}

func TestChatAttachImageAndClear(t *testing.T) {
	m := loggedIn(t)
	img := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n"), 0644))

	m = press(t, m, keyCtrlG)
	assert.Equal(t, pickImage, m.chat.picking)
	m = press(t, m, typed(img), keyEnter)
	assert.Equal(t, pickNone, m.chat.picking)

	d, ok := m.app.conv.Pending()
	require.True(t, ok)
	assert.Equal(t, attachment.KindImage, d.Kind)
	assert.Contains(t, m.View(), "cat.png")

	m = press(t, m, keyCtrlX)
	_, ok = m.app.conv.Pending()
	assert.False(t, ok)
}

func TestChatAttachUnsupportedFile(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, keyCtrlF, typed("/tmp/photo.png image/png"), keyEnter)
	_, ok := m.app.conv.Pending()
	assert.False(t, ok)
	assert.Contains(t, m.chat.alert, "Unsupported file type image/png")
}

func TestChatPickerEscape(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, keyCtrlF, typed("notes.txt"), keyEsc)
	assert.Equal(t, pickNone, m.chat.picking)
	_, ok := m.app.conv.Pending()
	assert.False(t, ok)
}

func TestChatFileOnlySend(t *testing.T) {
	m := loggedIn(t)
	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("shopping list\n"), 0644))

	m = press(t, m, keyCtrlF, typed(doc), keyEnter, keyEnter)
	entries := m.app.conv.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.RoleUser, entries[0].Role)
	require.NotNil(t, entries[0].Document)
	assert.Equal(t, "notes.txt", entries[0].Document.Name)
}

func TestTranscriptionFillsInput(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, typed("what is"))
	m.app.conv.MergeTranscription("this")
	next, _ := m.Update(transcriptionMsg{text: "this"})
	m = next.(tuiModel)
	assert.Equal(t, "what is this", m.chat.input.Value())
	assert.Equal(t, "what is this", m.app.conv.Input())
}

func TestTranscriptionKeepsKeysTypedDuringUpload(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, typed("what"))
	m.app.conv.MergeTranscription("is this")
	m = press(t, m, typed("!"))
	assert.Equal(t, "what!", m.app.conv.Input())

	next, _ := m.Update(transcriptionMsg{text: "is this"})
	m = next.(tuiModel)
	assert.Equal(t, "what! is this", m.chat.input.Value())
	assert.Equal(t, "what! is this", m.app.conv.Input())
}

func TestProfileScreen(t *testing.T) {
	m := loggedIn(t)
	m = press(t, m, keyCtrlP)
	require.Equal(t, screenProfile, m.screen)
	assert.Contains(t, m.View(), "save (no changes)")

	m = press(t, m, typed(" Jr"))
	assert.True(t, m.profile.draft.Modified())
	m = press(t, m, keyCtrlS)
	assert.Equal(t, "Profile saved", m.profile.notice)

	u, _ := m.app.accounts.User()
	assert.Equal(t, "John Doe Jr", u.Name)

	m = press(t, m, keyTab, keyEsc)
	assert.Equal(t, screenChat, m.screen)
}

func TestLoggedOutReturnsToLogin(t *testing.T) {
	m := loggedIn(t)
	m.app.logout()
	next, _ := m.Update(loggedOutMsg{})
	m = next.(tuiModel)
	assert.Equal(t, screenLogin, m.screen)
	assert.False(t, m.app.accounts.Authenticated())
}

func TestSplitMediaType(t *testing.T) {
	for _, tt := range []struct {
		in, path, mt string
	}{
		{"notes.md text/markdown", "notes.md", "text/markdown"},
		{"/home/me/my report.pdf", "/home/me/my report.pdf", ""},
		{"a b/c.txt", "a b/c.txt", ""},
		{"plain.txt", "plain.txt", ""},
		{"doc application/pdf", "doc", "application/pdf"},
	} {
		path, mt := splitMediaType(tt.in)
		assert.Equal(t, tt.path, path, tt.in)
		assert.Equal(t, tt.mt, mt, tt.in)
	}
}

func TestLevelMeter(t *testing.T) {
	assert.Equal(t, 0.0, levelFraction(-160))
	assert.Equal(t, 1.0, levelFraction(3))
	assert.InDelta(t, 0.5, levelFraction(-30), 1e-9)

	assert.Equal(t, strings.Repeat("░", 10), levelMeter(-100, 10))
	assert.Equal(t, strings.Repeat("█", 5)+strings.Repeat("░", 5), levelMeter(-30, 10))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "one two\nthree", wrapText("one two three", 8))
	assert.Equal(t, "a\n\nb", wrapText("a\n\nb", 10))
	assert.Equal(t, "as is", wrapText("as is", 0))
}
