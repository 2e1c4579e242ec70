// Package ui holds the interactive prompts and the terminal styles shared by
// the command handlers.
package ui

import (
	"context"

	"github.com/charmbracelet/huh"
)

// Confirm presents a yes/no decision point. A "no" answer is a normal early
// exit for the caller, not an error.
func Confirm(ctx context.Context, title, description string) (bool, error) {
	var confirmed bool

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

// MultiSelectString presents a multiple-choice selection over the given
// options. An empty selection is a valid answer.
func MultiSelectString(ctx context.Context, title, description string, options []string) ([]string, error) {
	opts := make([]huh.Option[string], len(options))
	for i, option := range options {
		opts[i] = huh.NewOption(option, option)
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title(title).
				Description(description).
				Options(opts...).
				Value(&selected),
		),
	).RunWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// SelectString presents a single-choice selection over the given options.
func SelectString(ctx context.Context, title, description string, options []string) (string, error) {
	opts := make([]huh.Option[string], len(options))
	for i, option := range options {
		opts[i] = huh.NewOption(option, option)
	}

	var selected string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Description(description).
				Options(opts...).
				Value(&selected),
		),
	).RunWithContext(ctx)
	if err != nil {
		return "", err
	}
	return selected, nil
}
