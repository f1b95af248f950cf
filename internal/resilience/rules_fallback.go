package resilience

import (
	"context"

	"github.com/openweald/weald/internal/rules"
)

// RulesFallback implements [rules.Adjudicator] with automatic failover across
// multiple rules machines. The usual arrangement is an external bridge as the
// primary with the builtin reference adjudicator behind it, so the world keeps
// resolving actions while the external machine is down and its breaker rests.
type RulesFallback struct {
	group *FallbackGroup[rules.Adjudicator]
}

// Compile-time interface assertion.
var _ rules.Adjudicator = (*RulesFallback)(nil)

// NewRulesFallback creates a [RulesFallback] with primary as the preferred
// adjudicator.
func NewRulesFallback(primary rules.Adjudicator, primaryName string, cfg FallbackConfig) *RulesFallback {
	return &RulesFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional adjudicator as a fallback.
func (f *RulesFallback) AddFallback(name string, adj rules.Adjudicator) {
	f.group.AddFallback(name, adj)
}

// Adjudicate sends the request to the first healthy adjudicator.
func (f *RulesFallback) Adjudicate(ctx context.Context, req rules.Request) (rules.Outcome, error) {
	return ExecuteWithResult(f.group, func(a rules.Adjudicator) (rules.Outcome, error) {
		return a.Adjudicate(ctx, req)
	})
}
