package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when there is no terminal to ask
// on.
var ErrNotInteractive = errors.New("confirmation needs a terminal; pass --yes to skip it")

// Confirm asks a yes/no question. Aborting with Ctrl+C or Esc counts as no.
func Confirm(title, description, affirmative string) (bool, error) {
	if !IsTerminal(os.Stdin) || !IsTerminal(os.Stdout) {
		return false, ErrNotInteractive
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative(affirmative).
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
