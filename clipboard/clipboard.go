// Package clipboard copies assistant replies to the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("no clipboard utility available (install xclip, xsel or wl-clipboard)")

// Available reports whether a clipboard backend was found.
func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

// Copy places text on the clipboard with surrounding whitespace removed.
// Empty text is not copied.
func Copy(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !Available() {
		return ErrUnavailable
	}
	return cb.WriteAll(text)
}
