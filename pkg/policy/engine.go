package policy

import "log/slog"

// Engine evaluates rule lists. It holds no policy of its own, so one engine
// serves every configuration snapshot.
type Engine struct {
	log *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{log: logger}
}

// Evaluate walks list in order and stops at the first rule matching payload.
// That rule's action runs with relPath and absPath and its pattern is
// returned. Later rules are never consulted once one matches.
func (e *Engine) Evaluate(relPath, absPath string, payload []byte, list List) (string, bool) {
	for i := range list {
		rule := &list[i]
		if !rule.Matches(payload) {
			continue
		}
		if rule.Action != nil {
			rule.Action.Invoke(e.log, relPath, absPath, rule.Pattern)
		}
		return rule.Pattern, true
	}
	return "", false
}
