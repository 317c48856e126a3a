package main

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"natter/account"
)

type loginForm struct {
	email    textinput.Model
	password textinput.Model
	focused  int
	err      string
}

func newLoginForm() loginForm {
	email := textinput.New()
	email.Prompt = "Email    "
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.SetValue(account.DemoEmail)

	password := textinput.New()
	password.Prompt = "Password "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 128
	password.SetValue(account.DemoPassword)

	return loginForm{email: email, password: password}
}

func (f *loginForm) focus() tea.Cmd {
	if f.focused == 0 {
		f.password.Blur()
		return f.email.Focus()
	}
	f.email.Blur()
	return f.password.Focus()
}

func (m tuiModel) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "tab", "shift+tab", "up", "down":
		m.login.focused = 1 - m.login.focused
		cmd := m.login.focus()
		return m, cmd

	case "enter":
		email := strings.TrimSpace(m.login.email.Value())
		err := m.app.login(email, m.login.password.Value())
		switch {
		case errors.Is(err, account.ErrInvalidCredentials):
			m.login.err = "Invalid email or password"
			return m, nil
		case err != nil:
			m.login.err = err.Error()
			return m, nil
		}
		m.login.err = ""
		m.screen = screenChat
		m.chat.refresh(m.app.conv.Entries())
		cmd := m.chat.input.Focus()
		return m, cmd
	}

	var cmd tea.Cmd
	if m.login.focused == 0 {
		m.login.email, cmd = m.login.email.Update(key)
	} else {
		m.login.password, cmd = m.login.password.Update(key)
	}
	return m, cmd
}

func (m tuiModel) viewLogin() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("natter") + dimStyle.Render("  sign in") + "\n\n")
	b.WriteString(m.login.email.View() + "\n")
	b.WriteString(m.login.password.View() + "\n\n")
	if m.login.err != "" {
		b.WriteString(alertStyle.Render(m.login.err) + "\n\n")
	}
	b.WriteString(helpLine("enter", "sign in", "tab", "switch field", "ctrl+c", "quit"))
	return b.String()
}
