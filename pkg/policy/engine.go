package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Options parameterize the engine. Zero values get the documented defaults.
type Options struct {
	CacheTTL          time.Duration // active-set snapshot TTL
	CacheMaxSize      int           // compiled-condition LRU capacity
	EvaluationTimeout time.Duration // per-evaluation deadline
	DenyWins          bool          // advisory; deny-wins ordering always applies
	MaxVersionHistory int           // retained prior policy versions
	Clock             func() time.Time
}

func (o *Options) defaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.CacheMaxSize <= 0 {
		o.CacheMaxSize = 1000
	}
	if o.EvaluationTimeout <= 0 {
		o.EvaluationTimeout = 100 * time.Millisecond
	}
	if o.MaxVersionHistory <= 0 {
		o.MaxVersionHistory = 10
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Engine evaluates policies for agents. Safe for concurrent use.
type Engine struct {
	store    datastore.Store
	compiler *Compiler
	snaps    *snapshotCache
	opts     Options
	logger   *slog.Logger
}

// NewEngine builds a policy engine over the given store.
func NewEngine(store datastore.Store, opts Options) (*Engine, error) {
	opts.defaults()
	compiler, err := NewCompiler(opts.CacheMaxSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:    store,
		compiler: compiler,
		snaps:    newSnapshotCache(opts.CacheTTL, opts.Clock),
		opts:     opts,
		logger:   slog.Default().With("component", "policy_engine"),
	}
	if !opts.DenyWins {
		// the conflict-resolution order is part of the API contract; the
		// flag is advisory only
		e.logger.Warn("DENY_WINS_RULE=false is advisory; deny-wins ordering still applies")
	}
	return e, nil
}

// Evaluate renders a decision for one request. The request context visible
// to conditions is {"agent": …, "agent_id", "operation", "op", "resource",
// …extra}.
func (e *Engine) Evaluate(ctx context.Context, agentID, operation string, resource map[string]any, extra map[string]any) (*contracts.PolicyDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.EvaluationTimeout)
	defer cancel()

	evalCtx := e.buildContext(ctx, agentID, operation, resource, extra)

	snap, err := e.snaps.get(ctx, e.store.ListActivePolicies)
	if err != nil {
		return nil, err
	}

	start := e.opts.Clock()
	var matched []contracts.MatchedRule

	for _, pol := range snap.policies {
		if err := ctx.Err(); err != nil {
			return nil, errcode.Wrap(errcode.CodeEvaluationTimeout, "evaluation deadline exceeded", err)
		}
		for _, rule := range pol.Rules {
			if !rule.Enabled {
				continue
			}
			compiled, err := e.compiler.Compile(rule.Condition)
			if err != nil {
				// registration validates conditions; an invalid one here
				// means the store was seeded out of band
				e.logger.Warn("skipping rule with invalid condition",
					"policy_id", pol.PolicyID, "rule_id", rule.RuleID, "error", err)
				continue
			}
			ok, err := compiled.EvalBool(evalCtx)
			if err != nil {
				// a failing rule is non-matching, never fatal to the decision
				e.logger.Warn("rule evaluation failed",
					"policy_id", pol.PolicyID, "rule_id", rule.RuleID, "error", err)
				continue
			}
			if ok {
				matched = append(matched, contracts.MatchedRule{
					PolicyID: pol.PolicyID,
					RuleID:   rule.RuleID,
					RuleName: rule.Name,
					Action:   rule.Action,
				})
			}
		}
	}

	verdict, confidence := resolve(matched)
	latency := float64(e.opts.Clock().Sub(start).Microseconds()) / 1000.0

	decision := &contracts.PolicyDecision{
		DecisionID:        contracts.NewID("dec"),
		AgentID:           agentID,
		RequestContext:    evalCtx,
		Verdict:           verdict,
		MatchedRules:      matched,
		Explanation:       explain(verdict, matched),
		Confidence:        confidence,
		EvaluationLatency: latency,
		Timestamp:         e.opts.Clock().UTC(),
	}
	return decision, nil
}

// InvalidateSnapshot forces the next evaluation to refetch the active set.
func (e *Engine) InvalidateSnapshot() {
	e.snaps.invalidate()
}

// CacheLen reports the compiled-condition cache size for Stats().
func (e *Engine) CacheLen() int { return e.compiler.CacheLen() }

func (e *Engine) buildContext(ctx context.Context, agentID, operation string, resource, extra map[string]any) map[string]any {
	evalCtx := map[string]any{
		"agent_id":  agentID,
		"operation": operation,
		"op":        operation,
		"resource":  resource,
	}
	if resource == nil {
		evalCtx["resource"] = map[string]any{}
	}

	if agent, err := e.store.GetAgent(ctx, agentID); err == nil {
		evalCtx["agent"] = map[string]any{
			"agent_id":    agent.AgentID,
			"name":        agent.Name,
			"team":        agent.Team,
			"trust_level": agent.TrustLevel,
			"attributes":  agent.Attributes,
		}
	} else {
		// unknown agents still get evaluated; conditions referencing agent
		// fields see null
		evalCtx["agent"] = map[string]any{"agent_id": agentID}
	}

	for k, v := range extra {
		evalCtx[k] = v
	}
	return evalCtx
}

// resolve applies deny-wins conflict resolution: DENY > ESCALATE > ALLOW,
// default ALLOW at half confidence when nothing matched.
func resolve(matched []contracts.MatchedRule) (contracts.Verdict, float64) {
	if len(matched) == 0 {
		return contracts.VerdictAllow, 0.5
	}
	best := contracts.ActionAllow
	for _, m := range matched {
		if m.Action.Precedence() > best.Precedence() {
			best = m.Action
		}
	}
	return contracts.Verdict(best), 1.0
}

func explain(verdict contracts.Verdict, matched []contracts.MatchedRule) string {
	if len(matched) == 0 {
		return "no rules matched; default allow"
	}
	parts := make([]string, 0, len(matched))
	for _, m := range matched {
		name := m.RuleName
		if name == "" {
			name = m.RuleID
		}
		parts = append(parts, fmt.Sprintf("%s/%s→%s", m.PolicyID, name, m.Action))
	}
	return fmt.Sprintf("%s: matched %s", verdict, strings.Join(parts, ", "))
}
