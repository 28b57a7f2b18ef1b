package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// ConfirmMerge asks the operator to approve a suggested entity merge, used
// by the dedupe review flow — dedupe candidates are only ever surfaced,
// never merged automatically. Falls back to the plain-stdin prompt when not
// running in a terminal.
func ConfirmMerge(sourceName, targetName string) (bool, error) {
	question := fmt.Sprintf("Merge %q into %q?", sourceName, targetName)
	if !IsTerminal() {
		return PromptYesNo(question, false), nil
	}

	var approved bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Description("The source entity is soft-deleted; its aliases, memories, and relationships move to the target.").
			Affirmative("Merge").
			Negative("Skip").
			Value(&approved),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return approved, nil
}
