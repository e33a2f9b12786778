package command

import (
	"fmt"
	"strings"
)

// Action is a recognized task verb.
type Action string

const (
	ActionCommit Action = "commit"
	ActionChange Action = "change"
)

// TaskCommand is a parsed `task commit|change <channel> "<description>"`
// chat command.
type TaskCommand struct {
	Action      Action
	Channel     string
	Description string
}

// ValidationError describes malformed command input. Its message is
// rendered back to the author verbatim, so keep it instructive.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task command: %s (usage: task commit|change <channel> \"<description>\")", e.Reason)
}

// IsTaskCommand reports whether content looks like a task command and
// should be routed through ParseTask instead of the pipeline.
func IsTaskCommand(content string) bool {
	fields := strings.Fields(content)
	return len(fields) > 0 && strings.EqualFold(fields[0], "task")
}

// ParseTask parses a task command. Any malformed input returns a
// *ValidationError and no state is touched by the caller.
func ParseTask(content string) (*TaskCommand, error) {
	trimmed := strings.TrimSpace(content)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "task") {
		return nil, &ValidationError{Input: content, Reason: "not a task command"}
	}
	if len(fields) < 2 {
		return nil, &ValidationError{Input: content, Reason: "missing action"}
	}

	var action Action
	switch strings.ToLower(fields[1]) {
	case "commit":
		action = ActionCommit
	case "change":
		action = ActionChange
	default:
		return nil, &ValidationError{Input: content, Reason: fmt.Sprintf("unknown action %q", fields[1])}
	}

	if len(fields) < 3 {
		return nil, &ValidationError{Input: content, Reason: "missing channel"}
	}
	channel := fields[2]

	rest := strings.TrimSpace(afterFields(trimmed, 3))
	description, err := unquote(rest)
	if err != nil {
		return nil, &ValidationError{Input: content, Reason: err.Error()}
	}
	if description == "" {
		return nil, &ValidationError{Input: content, Reason: "missing description"}
	}

	return &TaskCommand{Action: action, Channel: channel, Description: description}, nil
}

// afterFields returns the remainder of s past its first n
// whitespace-separated fields. Scanning by position keeps a channel name
// that repeats an earlier token ("task", "commit") from shifting the cut.
func afterFields(s string, n int) string {
	i := 0
	for ; n > 0; n-- {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
	}
	return s[i:]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// unquote strips a surrounding double-quote pair. Unquoted text is
// accepted as-is; an opening quote without a closing one is an error.
func unquote(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return strings.TrimSpace(s), nil
	}
	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return "", fmt.Errorf("unterminated quoted description")
	}
	return strings.TrimSpace(s[1 : len(s)-1]), nil
}
