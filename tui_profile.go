package main

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"natter/account"
)

const (
	fieldName = iota
	fieldEmail
	fieldImage
	fieldCount
)

type profileForm struct {
	draft   *account.Draft
	fields  [fieldCount]textinput.Model
	focused int
	alert   string
	notice  string
}

func newProfileForm(d *account.Draft) profileForm {
	f := profileForm{draft: d}
	prompts := [fieldCount]string{"Name   ", "Email  ", "Image  "}
	values := [fieldCount]string{d.Name, d.Email, d.ProfileImage}
	for i := range f.fields {
		ti := textinput.New()
		ti.Prompt = prompts[i]
		ti.CharLimit = 1024
		ti.SetValue(values[i])
		f.fields[i] = ti
	}
	f.fields[fieldImage].Placeholder = "path to a picture, enter to apply"
	return f
}

func (f *profileForm) focus() tea.Cmd {
	for i := range f.fields {
		f.fields[i].Blur()
	}
	return f.fields[f.focused].Focus()
}

func (m tuiModel) updateProfile(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		// stream and recording events keep the chat state current
		return m.updateChat(msg)
	}
	f := &m.profile
	f.alert, f.notice = "", ""

	switch key.String() {
	case "esc":
		return m.leaveProfile()

	case "tab", "down":
		f.focused = (f.focused + 1) % fieldCount
		cmd := f.focus()
		return m, cmd

	case "shift+tab", "up":
		f.focused = (f.focused + fieldCount - 1) % fieldCount
		cmd := f.focus()
		return m, cmd

	case "enter":
		if f.focused != fieldImage {
			f.focused++
			cmd := f.focus()
			return m, cmd
		}
		source := strings.TrimSpace(f.fields[fieldImage].Value())
		if source == "" || source == f.draft.ProfileImage {
			return m, nil
		}
		if err := f.draft.PickProfileImage(m.app.prep, source); err != nil {
			f.alert = pickerAlert(err)
			f.fields[fieldImage].SetValue(f.draft.ProfileImage)
		}
		return m, nil

	case "ctrl+s":
		err := f.draft.Save()
		switch {
		case errors.Is(err, account.ErrUnchanged):
			return m, nil
		case err != nil:
			f.alert = err.Error()
			return m, nil
		}
		f.notice = "Profile saved"
		return m, nil

	case "ctrl+l":
		a := m.app
		return m, func() tea.Msg {
			a.logout()
			return loggedOutMsg{}
		}
	}

	var cmd tea.Cmd
	f.fields[f.focused], cmd = f.fields[f.focused].Update(key)
	f.draft.Name = f.fields[fieldName].Value()
	f.draft.Email = f.fields[fieldEmail].Value()
	return m, cmd
}

func (m tuiModel) leaveProfile() (tea.Model, tea.Cmd) {
	m.profile = profileForm{}
	m.screen = screenChat
	m.chat.refresh(m.app.conv.Entries())
	cmd := m.chat.input.Focus()
	return m, cmd
}

func (m tuiModel) viewProfile() string {
	f := m.profile
	var b strings.Builder
	b.WriteString(titleStyle.Render("natter") + dimStyle.Render("  profile") + "\n\n")
	for _, ti := range f.fields {
		b.WriteString(ti.View() + "\n")
	}
	b.WriteString("\n")
	switch {
	case f.alert != "":
		b.WriteString(alertStyle.Render(f.alert) + "\n\n")
	case f.notice != "":
		b.WriteString(noticeStyle.Render(f.notice) + "\n\n")
	}

	save := "save"
	if !f.draft.Modified() {
		save = "save (no changes)"
	}
	b.WriteString(helpLine("ctrl+s", save, "tab", "next field", "ctrl+l", "log out", "esc", "back"))
	return b.String()
}
