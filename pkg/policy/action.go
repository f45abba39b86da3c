package policy

import (
	"context"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// ActionKind enumerates what a matching rule may do. Actions only ever log;
// they never decide whether a file is accepted.
type ActionKind string

const (
	// ActionLog logs a fixed message.
	ActionLog ActionKind = "log"
	// ActionTemplate renders a text/template with the match details and logs
	// the result.
	ActionTemplate ActionKind = "template"
)

// Action is the side effect attached to a rule.
type Action struct {
	Kind    ActionKind
	Message string
	Level   slog.Level

	tmpl *template.Template
}

// ActionData is what a template action is rendered with.
type ActionData struct {
	Path    string
	AbsPath string
	Pattern string
}

// NewAction validates kind and level and parses template messages. An empty
// level means warn.
func NewAction(kind ActionKind, message, level string) (*Action, error) {
	a := &Action{Kind: kind, Message: message, Level: slog.LevelWarn}
	if level != "" {
		if err := a.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, errx.With(ErrUnknownLevel, " %q", level)
		}
	}
	if message == "" {
		return nil, errx.With(ErrActionMessage, ": %s", kind)
	}

	switch kind {
	case ActionLog:
	case ActionTemplate:
		tmpl, err := template.New("action").Option("missingkey=error").Parse(message)
		if err != nil {
			return nil, errx.Wrap(ErrParseTemplate, err)
		}
		a.tmpl = tmpl
	default:
		return nil, errx.With(ErrUnknownAction, " %q", kind)
	}
	return a, nil
}

// Invoke runs the action for a match on relPath.
func (a *Action) Invoke(logger *slog.Logger, relPath, absPath, pattern string) {
	msg := a.Message
	if a.tmpl != nil {
		var b strings.Builder
		if err := a.tmpl.Execute(&b, ActionData{Path: relPath, AbsPath: absPath, Pattern: pattern}); err != nil {
			logger.Error("rule action template failed", "pattern", pattern, "error", err)
			return
		}
		msg = b.String()
	}
	logger.Log(context.Background(), a.Level, msg, "path", relPath, "abs_path", absPath, "pattern", pattern)
}
