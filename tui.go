package main

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type streamLoadingMsg struct{ loading bool }
type replyUpdatedMsg struct{ id, text string }
type replyFinishedMsg struct {
	id  string
	err error
}
type recordingMsg struct{ active bool }
type audioLevelMsg struct{ db float64 }
type silenceMsg struct{ active bool }
type transcriptionMsg struct{ text string }
type revealMsg struct{}
type alertMsg struct{ text string }
type recordTickMsg time.Time
type loggedOutMsg struct{}

type screen int

const (
	screenLogin screen = iota
	screenChat
	screenProfile
)

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards app events into the running Bubble Tea program.
type tuiSink struct{}

func (tuiSink) StreamLoading(loading bool)         { tuiSend(streamLoadingMsg{loading}) }
func (tuiSink) ReplyUpdated(id, text string)       { tuiSend(replyUpdatedMsg{id, text}) }
func (tuiSink) ReplyFinished(id string, err error) { tuiSend(replyFinishedMsg{id, err}) }
func (tuiSink) RecordingChanged(active bool)       { tuiSend(recordingMsg{active}) }
func (tuiSink) AudioLevel(db float64)              { tuiSend(audioLevelMsg{db}) }
func (tuiSink) SilenceWarning(active bool)         { tuiSend(silenceMsg{active}) }
func (tuiSink) Transcription(text string)          { tuiSend(transcriptionMsg{text}) }
func (tuiSink) Reveal()                            { tuiSend(revealMsg{}) }

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	userLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	attachStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("180"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	meterStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

type tuiModel struct {
	app           *app
	screen        screen
	width, height int

	login   loginForm
	chat    chatView
	profile profileForm
}

func newTUIModel(a *app) tuiModel {
	m := tuiModel{
		app:    a,
		screen: screenLogin,
		login:  newLoginForm(),
		chat:   newChatView(),
	}
	m.login.focus()
	return m
}

func NewTUIProgram(a *app) *tea.Program {
	return tea.NewProgram(newTUIModel(a), tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chat.resize(msg.Width, msg.Height)
		m.chat.refresh(m.app.conv.Entries())
		return m, nil

	case loggedOutMsg:
		m.profile = profileForm{}
		m.chat = newChatView()
		m.chat.resize(m.width, m.height)
		m.login = newLoginForm()
		m.screen = screenLogin
		cmd := m.login.focus()
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	switch m.screen {
	case screenLogin:
		return m.updateLogin(msg)
	case screenProfile:
		return m.updateProfile(msg)
	default:
		return m.updateChat(msg)
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	switch m.screen {
	case screenLogin:
		return m.viewLogin()
	case screenProfile:
		return m.viewProfile()
	default:
		return m.viewChat()
	}
}

func helpLine(pairs ...string) string {
	var out string
	for i := 0; i+1 < len(pairs); i += 2 {
		if out != "" {
			out += helpStyle.Render("  ")
		}
		out += helpKeyStyle.Render(pairs[i]) + helpStyle.Render(" "+pairs[i+1])
	}
	return out
}
