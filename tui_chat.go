package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"natter/attachment"
	"natter/conversation"
	"natter/log"
	"natter/recorder"
)

type pickMode int

const (
	pickNone pickMode = iota
	pickImage
	pickFile
)

const (
	meterWidth   = 24
	meterFloorDB = -60.0
)

type chatView struct {
	vp      viewport.Model
	input   textinput.Model
	picker  textinput.Model
	spin    spinner.Model
	picking pickMode

	renderer *glamour.TermRenderer
	rendered map[string]string // final assistant entries by ID

	loading   bool
	recording bool
	silent    bool
	level     float64
	started   time.Time
	alert     string
	notice    string
}

func newChatView() chatView {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask about an image, a file or anything else"
	input.CharLimit = 4000

	picker := textinput.New()
	picker.CharLimit = 1024

	spin := spinner.New()
	spin.Spinner = spinner.Spinner{
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		FPS:    80 * time.Millisecond,
	}
	spin.Style = botLabelStyle

	return chatView{
		vp:       viewport.New(80, 20),
		input:    input,
		picker:   picker,
		spin:     spin,
		rendered: make(map[string]string),
		level:    recorder.FloorDB,
	}
}

func (c *chatView) resize(width, height int) {
	// title, status, input and help lines
	h := height - 5
	if h < 3 {
		h = 3
	}
	c.vp.Width = width
	c.vp.Height = h
	c.input.Width = width - len(c.input.Prompt) - 1

	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(wrap))
	if err != nil {
		log.Warnf("markdown renderer: %v", err)
		r = nil
	}
	c.renderer = r
	clear(c.rendered)
}

// refresh rebuilds the viewport content from the conversation log.
func (c *chatView) refresh(entries []conversation.Entry) {
	atBottom := c.vp.AtBottom()
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.renderEntry(e))
	}
	c.vp.SetContent(b.String())
	if atBottom {
		c.vp.GotoBottom()
	}
}

func (c *chatView) renderEntry(e conversation.Entry) string {
	var b strings.Builder
	if e.Role == conversation.RoleUser {
		b.WriteString(userLabelStyle.Render("You") + "\n")
	} else {
		b.WriteString(botLabelStyle.Render("Assistant") + "\n")
	}
	if e.ImageRef != "" {
		b.WriteString(attachStyle.Render("[image] "+e.ImageRef) + "\n")
	}
	if d := e.Document; d != nil {
		b.WriteString(attachStyle.Render(fmt.Sprintf("[file] %s (%s)", d.Name, d.MediaType)) + "\n")
	}

	switch {
	case e.Role == conversation.RoleAssistant && e.Text == "" && !e.Final:
		b.WriteString(dimStyle.Render("…") + "\n")
	case e.Role == conversation.RoleAssistant && e.Final:
		b.WriteString(c.markdown(e) + "\n")
	case e.Text != "":
		b.WriteString(wrapText(e.Text, c.vp.Width-2) + "\n")
	}
	return b.String()
}

func (c *chatView) markdown(e conversation.Entry) string {
	if out, ok := c.rendered[e.ID]; ok {
		return out
	}
	if c.renderer == nil {
		return wrapText(e.Text, c.vp.Width-2)
	}
	out, err := c.renderer.Render(e.Text)
	if err != nil {
		log.Warnf("markdown render: %v", err)
		return wrapText(e.Text, c.vp.Width-2)
	}
	out = strings.Trim(out, "\n")
	c.rendered[e.ID] = out
	return out
}

func recordTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return recordTickMsg(t)
	})
}

func (m tuiModel) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	c := &m.chat
	switch msg := msg.(type) {
	case streamLoadingMsg:
		c.loading = msg.loading
		if msg.loading {
			return m, c.spin.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !c.loading {
			return m, nil
		}
		var cmd tea.Cmd
		c.spin, cmd = c.spin.Update(msg)
		return m, cmd

	case replyUpdatedMsg:
		c.refresh(m.app.conv.Entries())
		return m, nil

	case replyFinishedMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			c.alert = "Reply failed: " + msg.err.Error()
		}
		c.refresh(m.app.conv.Entries())
		return m, nil

	case revealMsg:
		c.refresh(m.app.conv.Entries())
		c.vp.GotoBottom()
		return m, nil

	case recordingMsg:
		c.recording = msg.active
		c.silent = false
		if msg.active {
			c.started = time.Now()
			return m, recordTick()
		}
		c.level = recorder.FloorDB
		return m, nil

	case recordTickMsg:
		if c.recording {
			return m, recordTick()
		}
		return m, nil

	case audioLevelMsg:
		c.level = msg.db
		return m, nil

	case silenceMsg:
		c.silent = msg.active && c.recording
		return m, nil

	case transcriptionMsg:
		if msg.text == "" {
			c.notice = "No speech recognised"
		} else {
			c.notice = ""
		}
		// keys typed while the upload ran already replaced the buffer input
		merged := conversation.MergeTranscript(c.input.Value(), msg.text)
		m.app.conv.SetInput(merged)
		c.input.SetValue(merged)
		c.input.CursorEnd()
		return m, nil

	case alertMsg:
		c.alert = msg.text
		return m, nil

	case tea.KeyMsg:
		if c.picking != pickNone {
			return m.updatePicker(msg)
		}
		return m.chatKey(msg)
	}

	var cmd tea.Cmd
	c.vp, cmd = c.vp.Update(msg)
	return m, cmd
}

func (m tuiModel) chatKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := &m.chat
	c.alert, c.notice = "", ""

	switch key.String() {
	case "enter":
		m.app.conv.SetInput(c.input.Value())
		if _, ok := m.app.send(); ok {
			c.input.Reset()
		}
		c.refresh(m.app.conv.Entries())
		c.vp.GotoBottom()
		return m, nil

	case "ctrl+r":
		m.app.conv.SetInput(c.input.Value())
		a := m.app
		if c.recording {
			c.notice = "Transcribing…"
			return m, func() tea.Msg {
				a.stopRecording()
				return nil
			}
		}
		return m, func() tea.Msg {
			if err := a.startRecording(); err != nil {
				return alertMsg{recordAlert(err)}
			}
			return nil
		}

	case "ctrl+g":
		cmd := c.openPicker(pickImage, "Image path: ")
		return m, cmd

	case "ctrl+f":
		cmd := c.openPicker(pickFile, "File path: ")
		return m, cmd

	case "ctrl+x":
		m.app.conv.ClearPending()
		return m, nil

	case "ctrl+y":
		if err := m.app.copyLastReply(); err != nil {
			c.alert = err.Error()
		} else {
			c.notice = "Copied last reply"
		}
		return m, nil

	case "ctrl+p":
		d, err := m.app.accounts.NewDraft()
		if err != nil {
			c.alert = err.Error()
			return m, nil
		}
		c.input.Blur()
		m.profile = newProfileForm(d)
		m.screen = screenProfile
		cmd := m.profile.focus()
		return m, cmd

	case "pgup", "pgdown":
		var cmd tea.Cmd
		c.vp, cmd = c.vp.Update(key)
		return m, cmd
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(key)
	m.app.conv.SetInput(c.input.Value())
	return m, cmd
}

func (c *chatView) openPicker(mode pickMode, prompt string) tea.Cmd {
	c.picking = mode
	c.picker.Prompt = prompt
	c.picker.Reset()
	c.input.Blur()
	return c.picker.Focus()
}

func (c *chatView) closePicker() tea.Cmd {
	c.picking = pickNone
	c.picker.Blur()
	return c.input.Focus()
}

func (m tuiModel) updatePicker(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := &m.chat
	switch key.String() {
	case "esc":
		cmd := c.closePicker()
		return m, cmd

	case "enter":
		source := strings.TrimSpace(c.picker.Value())
		if source == "" {
			cmd := c.closePicker()
			return m, cmd
		}
		var err error
		if c.picking == pickImage {
			err = m.app.pickImage(source)
		} else {
			path, mediaType := splitMediaType(source)
			err = m.app.pickFile(path, mediaType)
		}
		if err != nil {
			c.alert = pickerAlert(err)
		}
		cmd := c.closePicker()
		return m, cmd
	}

	var cmd tea.Cmd
	c.picker, cmd = c.picker.Update(key)
	return m, cmd
}

var topLevelTypes = map[string]bool{
	"application": true, "audio": true, "font": true, "image": true,
	"message": true, "model": true, "multipart": true, "text": true, "video": true,
}

// splitMediaType separates an optional trailing media type from a typed
// file path, as in "notes.md text/markdown".
func splitMediaType(s string) (path, mediaType string) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	mt := s[i+1:]
	typ, sub, ok := strings.Cut(mt, "/")
	if !ok || !topLevelTypes[typ] || sub == "" || strings.ContainsAny(sub, `/\`) {
		return s, ""
	}
	return strings.TrimSpace(s[:i]), mt
}

func pickerAlert(err error) string {
	var unsupported *attachment.UnsupportedError
	switch {
	case errors.As(err, &unsupported):
		return fmt.Sprintf("Unsupported file type %s: pick a PDF, Word or text document", unsupported.MediaType)
	case errors.Is(err, attachment.ErrNoSelection):
		return "Nothing selected"
	default:
		return err.Error()
	}
}

func recordAlert(err error) string {
	if errors.Is(err, recorder.ErrPermissionDenied) {
		return "Microphone unavailable: check the input device and its permissions"
	}
	return err.Error()
}

func levelFraction(db float64) float64 {
	if db < meterFloorDB {
		db = meterFloorDB
	}
	if db > 0 {
		db = 0
	}
	return (db - meterFloorDB) / -meterFloorDB
}

func levelMeter(db float64, width int) string {
	n := int(levelFraction(db)*float64(width) + 0.5)
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func (m tuiModel) viewChat() string {
	c := m.chat
	var b strings.Builder

	title := titleStyle.Render("natter")
	if u, ok := m.app.accounts.User(); ok {
		title += dimStyle.Render("  " + u.Name)
	}
	b.WriteString(title + "\n")
	b.WriteString(c.vp.View() + "\n")

	switch {
	case c.recording:
		elapsed := time.Since(c.started).Seconds()
		line := recStyle.Render("● REC") + fmt.Sprintf(" %4.1fs ", elapsed) +
			meterStyle.Render(levelMeter(c.level, meterWidth))
		if c.silent {
			line += alertStyle.Render("  no voice detected, check your microphone")
		}
		b.WriteString(line + "\n")
	case c.loading:
		b.WriteString(c.spin.View() + dimStyle.Render(" thinking") + "\n")
	case c.alert != "":
		b.WriteString(alertStyle.Render(c.alert) + "\n")
	case c.notice != "":
		b.WriteString(noticeStyle.Render(c.notice) + "\n")
	default:
		b.WriteString(c.pendingLine(m.app.conv) + "\n")
	}

	if c.picking != pickNone {
		b.WriteString(c.picker.View() + "\n")
		b.WriteString(helpLine("enter", "attach", "esc", "cancel"))
		return b.String()
	}
	b.WriteString(c.input.View() + "\n")
	b.WriteString(helpLine("enter", "send", "ctrl+r", "record", "ctrl+g", "image", "ctrl+f", "file",
		"ctrl+x", "clear", "ctrl+y", "copy", "ctrl+p", "profile"))
	return b.String()
}

func (c chatView) pendingLine(conv *conversation.Buffer) string {
	d, ok := conv.Pending()
	if !ok {
		return ""
	}
	label := d.Source
	if d.Kind == attachment.KindFile {
		label = fmt.Sprintf("%s (%s)", d.Name, d.MediaType)
	}
	return attachStyle.Render(fmt.Sprintf("📎 %s: %s", d.Kind, label))
}

// wrapText wraps text to fit within maxWidth, breaking on word boundaries.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if len([]rune(line))+1+len([]rune(w)) > maxWidth {
				out = append(out, line)
				line = w
			} else {
				line += " " + w
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
