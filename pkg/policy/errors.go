package policy

import "errors"

var (
	ErrEmptyPattern   = errors.New("rule pattern is empty")
	ErrCompilePattern = errors.New("compile rule pattern")
	ErrUnknownAction  = errors.New("unknown action kind")
	ErrActionMessage  = errors.New("action needs a message")
	ErrParseTemplate  = errors.New("parse action template")
	ErrUnknownLevel   = errors.New("unknown action level")
)
