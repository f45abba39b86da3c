package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/policy"
)

// DefaultExcerptSize caps the excerpt attached to quarantine notifications
// when the document does not set one.
const DefaultExcerptSize int64 = 10240

// DefaultRecipient receives notifications when the document names nobody.
const DefaultRecipient = "nobody@example.com"

var addressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// Document is the YAML form of .pitfilerc.
type Document struct {
	Runtime RuntimeSection `yaml:"runtime"`
	Filters FiltersSection `yaml:"filters"`
}

// Validate validates the document.
func (d *Document) Validate() error {
	if err := d.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return d.Filters.Validate()
}

// RuntimeSection holds the notification parameters.
type RuntimeSection struct {
	Recipient   string `yaml:"recipient"`
	ExcerptSize *int64 `yaml:"excerpt_size"`
}

// Validate validates the runtime section.
func (r *RuntimeSection) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Recipient, validation.Match(addressPattern).Error("must be an email address")),
		validation.Field(&r.ExcerptSize, validation.Min(int64(0))),
	)
}

// FiltersSection holds the rule lists of both domains.
type FiltersSection struct {
	Content DomainSection `yaml:"content"`
	Path    DomainSection `yaml:"path"`
}

// Validate validates both domains.
func (f *FiltersSection) Validate() error {
	if err := f.Content.Validate(); err != nil {
		return fmt.Errorf("filters.content: %w", err)
	}
	if err := f.Path.Validate(); err != nil {
		return fmt.Errorf("filters.path: %w", err)
	}
	return nil
}

// DomainSection holds a whitelist and a blacklist.
type DomainSection struct {
	Whitelist []RuleSpec `yaml:"whitelist"`
	Blacklist []RuleSpec `yaml:"blacklist"`
}

// Validate validates every rule.
func (d *DomainSection) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Whitelist),
		validation.Field(&d.Blacklist),
	)
}

// RuleSpec is one rule as written in the document.
type RuleSpec struct {
	Pattern string      `yaml:"pattern"`
	Action  *ActionSpec `yaml:"action"`
}

// Validate validates the rule.
func (r RuleSpec) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Pattern, validation.Required),
		validation.Field(&r.Action),
	)
}

// ActionSpec is a rule action as written in the document.
type ActionSpec struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
	Level   string `yaml:"level"`
}

// Validate validates the action.
func (a ActionSpec) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Kind, validation.Required,
			validation.In(string(policy.ActionLog), string(policy.ActionTemplate))),
		validation.Field(&a.Message, validation.Required),
		validation.Field(&a.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// Parse strictly decodes and validates a document. Unknown keys are
// rejected. An empty document is valid and yields defaults with no rules.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(&doc)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return nil, errx.Wrap(ErrParseConfig, err)
	default:
		var extra yaml.Node
		if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
			if err != nil {
				return nil, errx.Wrap(ErrParseConfig, err)
			}
			return nil, errx.With(ErrParseConfig, ": only one document is allowed, found another at line %d", extra.Line)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, errx.Wrap(ErrInvalidConfig, err)
	}
	return &doc, nil
}

// Recipient returns the configured recipient or the default.
func (d *Document) Recipient() string {
	if d.Runtime.Recipient == "" {
		return DefaultRecipient
	}
	return d.Runtime.Recipient
}

// ExcerptSize returns the configured excerpt size or the default.
func (d *Document) ExcerptSize() int64 {
	if d.Runtime.ExcerptSize == nil {
		return DefaultExcerptSize
	}
	return *d.Runtime.ExcerptSize
}

// Policy compiles every rule, preserving document order.
func (d *Document) Policy() (*policy.Policy, error) {
	var (
		p   policy.Policy
		err error
	)
	if p.Content.Whitelist, err = compileList("filters.content.whitelist", d.Filters.Content.Whitelist); err != nil {
		return nil, err
	}
	if p.Content.Blacklist, err = compileList("filters.content.blacklist", d.Filters.Content.Blacklist); err != nil {
		return nil, err
	}
	if p.Path.Whitelist, err = compileList("filters.path.whitelist", d.Filters.Path.Whitelist); err != nil {
		return nil, err
	}
	if p.Path.Blacklist, err = compileList("filters.path.blacklist", d.Filters.Path.Blacklist); err != nil {
		return nil, err
	}
	return &p, nil
}

func compileList(where string, specs []RuleSpec) (policy.List, error) {
	list := make(policy.List, 0, len(specs))
	for i, spec := range specs {
		var action *policy.Action
		if spec.Action != nil {
			a, err := policy.NewAction(policy.ActionKind(spec.Action.Kind), spec.Action.Message, spec.Action.Level)
			if err != nil {
				return nil, errx.With(ErrCompileRule, " %s[%d]: %w", where, i, err)
			}
			action = a
		}
		rule, err := policy.NewRule(spec.Pattern, action)
		if err != nil {
			return nil, errx.With(ErrCompileRule, " %s[%d]: %w", where, i, err)
		}
		list = append(list, rule)
	}
	return list, nil
}
