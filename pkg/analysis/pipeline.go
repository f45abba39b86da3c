// Package analysis decides whether a freshly written file stays in the
// repository.
package analysis

import (
	"context"
	"log/slog"
	"os"

	"github.com/jingkaihe/pitfile/pkg/config"
	"github.com/jingkaihe/pitfile/pkg/policy"
	"github.com/jingkaihe/pitfile/pkg/quarantine"
)

// Verdict is the outcome of an analysis.
type Verdict int

const (
	Accepted Verdict = iota
	Quarantined
)

func (v Verdict) String() string {
	if v == Quarantined {
		return "quarantined"
	}
	return "accepted"
}

// Outcome reports the verdict and, when a rule decided it, which one.
type Outcome struct {
	Verdict Verdict
	Domain  policy.Domain
	List    policy.ListKind
	Pattern string
}

// Snapshotter supplies the active configuration.
type Snapshotter interface {
	Current() *config.RuntimeConfig
}

// Quarantiner moves a condemned file away.
type Quarantiner interface {
	Quarantine(ctx context.Context, cfg *config.RuntimeConfig, relPath, absPath string, hit quarantine.Hit) (*quarantine.Record, error)
}

// Pipeline runs the fixed precedence chain: path whitelist, path blacklist,
// content whitelist, content blacklist, then default accept.
type Pipeline struct {
	configs    Snapshotter
	engine     *policy.Engine
	quarantine Quarantiner
	log        *slog.Logger
}

func NewPipeline(configs Snapshotter, engine *policy.Engine, q Quarantiner, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if engine == nil {
		engine = policy.NewEngine(logger)
	}
	return &Pipeline{
		configs:    configs,
		engine:     engine,
		quarantine: q,
		log:        logger.With("component", "analysis"),
	}
}

// stages is the fixed evaluation order: path before content and whitelist
// before blacklist within a domain.
var stages = []struct {
	domain policy.Domain
	kind   policy.ListKind
}{
	{policy.DomainPath, policy.Whitelist},
	{policy.DomainPath, policy.Blacklist},
	{policy.DomainContent, policy.Whitelist},
	{policy.DomainContent, policy.Blacklist},
}

// Analyze evaluates the file at absPath. The configuration snapshot is
// captured once, so a reload mid-analysis does not change the rules used.
// Errors never escape: an unreadable file is accepted and a failed
// quarantine is logged.
func (p *Pipeline) Analyze(ctx context.Context, relPath, absPath string) Outcome {
	cfg := p.configs.Current()
	if cfg == nil || cfg.Policy == nil {
		return Outcome{Verdict: Accepted}
	}

	var content []byte
	for _, stage := range stages {
		payload := []byte(relPath)
		if stage.domain == policy.DomainContent {
			if content == nil {
				data, err := os.ReadFile(absPath)
				if err != nil {
					p.log.Debug("content unreadable, accepting", "path", relPath, "error", err)
					return Outcome{Verdict: Accepted}
				}
				if len(data) == 0 {
					return Outcome{Verdict: Accepted}
				}
				content = data
			}
			payload = content
		}

		list := cfg.Policy.Domain(stage.domain).Get(stage.kind)
		pattern, ok := p.engine.Evaluate(relPath, absPath, payload, list)
		if !ok {
			continue
		}
		if stage.kind == policy.Whitelist {
			return p.accept(relPath, stage.domain, pattern)
		}
		return p.condemn(ctx, cfg, relPath, absPath, stage.domain, pattern)
	}
	return Outcome{Verdict: Accepted}
}

func (p *Pipeline) accept(relPath string, domain policy.Domain, pattern string) Outcome {
	p.log.Debug("whitelisted", "path", relPath, "domain", domain, "pattern", pattern)
	return Outcome{Verdict: Accepted, Domain: domain, List: policy.Whitelist, Pattern: pattern}
}

func (p *Pipeline) condemn(ctx context.Context, cfg *config.RuntimeConfig, relPath, absPath string, domain policy.Domain, pattern string) Outcome {
	out := Outcome{Verdict: Quarantined, Domain: domain, List: policy.Blacklist, Pattern: pattern}
	if p.quarantine == nil {
		return out
	}
	rec, err := p.quarantine.Quarantine(ctx, cfg, relPath, absPath, quarantine.Hit{Domain: domain, Pattern: pattern})
	if err != nil {
		p.log.Warn("quarantine failed", "path", relPath, "error", err)
		return out
	}
	if rec.Replaced {
		p.log.Warn("quarantine overwrites earlier copy", "path", relPath, "destination", rec.Destination)
	}
	return out
}

// OnRelease adapts the pipeline to the passthrough release hook.
func (p *Pipeline) OnRelease(relPath, absPath string) {
	p.Analyze(context.Background(), relPath, absPath)
}
