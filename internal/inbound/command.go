// internal/inbound/command.go
package inbound

import "strings"

// Command is a recognized customer reply intent.
type Command string

const (
	CommandConfirm Command = "confirm"
	CommandCancel  Command = "cancel"
	CommandHelp    Command = "help"
	CommandUnknown Command = "unknown"
)

// ParseCommand maps free-form reply text onto the command grammar.
// Matching is case-insensitive on the first word, with surrounding
// whitespace and trailing punctuation ignored, so "  YES! " confirms.
func ParseCommand(text string) Command {
	word := strings.ToLower(strings.TrimSpace(text))
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word = word[:i]
	}
	word = strings.TrimRight(word, ".,!?")

	switch word {
	case "yes", "y", "confirm", "ok":
		return CommandConfirm
	case "no", "n", "cancel":
		return CommandCancel
	case "help", "info":
		return CommandHelp
	default:
		return CommandUnknown
	}
}
