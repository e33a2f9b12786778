package command

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TaskCommand
		wantErr string
	}{
		{
			name:  "commit quoted",
			input: `task commit development "ship the importer"`,
			want:  TaskCommand{Action: ActionCommit, Channel: "development", Description: "ship the importer"},
		},
		{
			name:  "change quoted",
			input: `task change creation "draft the landing page"`,
			want:  TaskCommand{Action: ActionChange, Channel: "creation", Description: "draft the landing page"},
		},
		{
			name:  "unquoted description accepted",
			input: `task commit development ship it today`,
			want:  TaskCommand{Action: ActionCommit, Channel: "development", Description: "ship it today"},
		},
		{
			name:  "case-insensitive verb",
			input: `Task Commit development "x"`,
			want:  TaskCommand{Action: ActionCommit, Channel: "development", Description: "x"},
		},
		{
			name:  "channel named like the verb",
			input: `task commit task "write tests"`,
			want:  TaskCommand{Action: ActionCommit, Channel: "task", Description: "write tests"},
		},
		{
			name:  "channel repeating an earlier token",
			input: `task commit commit "cut the release"`,
			want:  TaskCommand{Action: ActionCommit, Channel: "commit", Description: "cut the release"},
		},
		{
			name:    "unknown action",
			input:   `task cancel development "x"`,
			wantErr: "unknown action",
		},
		{
			name:    "missing action",
			input:   `task`,
			wantErr: "missing action",
		},
		{
			name:    "missing channel",
			input:   `task commit`,
			wantErr: "missing channel",
		},
		{
			name:    "missing description",
			input:   `task commit development`,
			wantErr: "missing description",
		},
		{
			name:    "empty quotes",
			input:   `task commit development ""`,
			wantErr: "missing description",
		},
		{
			name:    "unterminated quote",
			input:   `task commit development "half open`,
			wantErr: "unterminated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTask(tt.input)
			if tt.wantErr != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("error = %v, want *ValidationError", err)
				}
				if !strings.Contains(verr.Reason, tt.wantErr) {
					t.Fatalf("reason = %q, want it to mention %q", verr.Reason, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTask error: %v", err)
			}
			if *got != tt.want {
				t.Fatalf("ParseTask = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestIsTaskCommand(t *testing.T) {
	if !IsTaskCommand("task commit development \"x\"") {
		t.Fatal("task command not detected")
	}
	if !IsTaskCommand("  TASK change lounge \"y\"") {
		t.Fatal("case-insensitive detection failed")
	}
	if IsTaskCommand("the task is almost done") {
		t.Fatal("plain sentence misdetected as command")
	}
}
