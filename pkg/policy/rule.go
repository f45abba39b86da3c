package policy

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// GlobPrefix marks a pattern as a glob matched against the whole payload.
// Any other pattern is a regular expression searched anywhere in it.
const GlobPrefix = "glob:"

// Domain names what a rule list is matched against.
type Domain string

const (
	DomainPath    Domain = "path"
	DomainContent Domain = "content"
)

// ListKind is whitelist or blacklist.
type ListKind string

const (
	Whitelist ListKind = "whitelist"
	Blacklist ListKind = "blacklist"
)

type matcher interface {
	Match(payload []byte) bool
}

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Match(payload []byte) bool { return m.re.Match(payload) }

type globMatcher struct{ g glob.Glob }

func (m globMatcher) Match(payload []byte) bool { return m.g.Match(string(payload)) }

// Rule is a compiled pattern with an optional action.
type Rule struct {
	Pattern string
	Action  *Action

	matcher matcher
}

// NewRule compiles pattern. action may be nil.
func NewRule(pattern string, action *Action) (Rule, error) {
	if pattern == "" {
		return Rule{}, ErrEmptyPattern
	}
	m, err := compileMatcher(pattern)
	if err != nil {
		return Rule{}, errx.With(ErrCompilePattern, " %q: %w", pattern, err)
	}
	return Rule{Pattern: pattern, Action: action, matcher: m}, nil
}

func compileMatcher(pattern string) (matcher, error) {
	if rest, ok := strings.CutPrefix(pattern, GlobPrefix); ok {
		g, err := glob.Compile(rest, '/')
		if err != nil {
			return nil, err
		}
		return globMatcher{g: g}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return regexMatcher{re: re}, nil
}

// Matches reports whether the rule matches payload. An uncompiled rule
// matches nothing.
func (r *Rule) Matches(payload []byte) bool {
	if r.matcher == nil {
		return false
	}
	return r.matcher.Match(payload)
}

// List is an ordered rule sequence; the first match wins.
type List []Rule

// Lists holds the whitelist and blacklist of one domain.
type Lists struct {
	Whitelist List
	Blacklist List
}

// Get returns the list of the given kind.
func (l Lists) Get(kind ListKind) List {
	if kind == Whitelist {
		return l.Whitelist
	}
	return l.Blacklist
}

// Policy is the complete filter policy.
type Policy struct {
	Path    Lists
	Content Lists
}

// Domain returns the lists for d.
func (p *Policy) Domain(d Domain) Lists {
	if d == DomainPath {
		return p.Path
	}
	return p.Content
}

// RuleCount returns the number of rules across every list.
func (p *Policy) RuleCount() int {
	return len(p.Path.Whitelist) + len(p.Path.Blacklist) +
		len(p.Content.Whitelist) + len(p.Content.Blacklist)
}
