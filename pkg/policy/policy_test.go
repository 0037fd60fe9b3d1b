package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

func newTestEngine(t *testing.T, store datastore.Store, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(store, opts)
	require.NoError(t, err)
	return e
}

func TestCompileWhitelist(t *testing.T) {
	c, err := NewCompiler(16)
	require.NoError(t, err)

	valid := []string{
		`true`,
		`agent.trust_level == "high"`,
		`resource.cost > 100 && operation != "read"`,
		`operation in ["deploy", "delete"]`,
		`resource["region"] == "eu-west-1" || !agent.attributes.restricted`,
	}
	for _, src := range valid {
		_, err := c.Compile(src)
		assert.NoError(t, err, src)
	}

	invalid := []string{
		`size(resource.items) > 0`,              // unlisted function
		`operation.startsWith("del")`,           // method call
		`[1, 2, 3].exists(x, x > 2)`,            // comprehension via method
		`resource.cost + 10 > 100`,              // arithmetic is not allowed
	}
	for _, src := range invalid {
		_, err := c.Compile(src)
		require.Error(t, err, src)
		assert.Equal(t, errcode.CodePolicyInvalidCondition, errcode.CodeOf(err), src)
	}

	// map and struct construction is rejected outright
	_, err = c.Compile(`{"a": 1} == resource`)
	assert.Equal(t, errcode.CodePolicyInvalidCondition, errcode.CodeOf(err))
}

func TestCompileCaches(t *testing.T) {
	c, err := NewCompiler(16)
	require.NoError(t, err)

	first, err := c.Compile(`operation == "read"`)
	require.NoError(t, err)
	second, err := c.Compile(`operation == "read"`)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.CacheLen())

	// invalid conditions are never cached
	_, err = c.Compile(`size(x)`)
	require.Error(t, err)
	assert.Equal(t, 1, c.CacheLen())
}

func TestNullSemantics(t *testing.T) {
	c, err := NewCompiler(64)
	require.NoError(t, err)

	ctx := map[string]any{
		"operation": "deploy",
		"resource":  map[string]any{"cost": 150},
		"agent":     map[string]any{"agent_id": "a1"},
	}

	cases := []struct {
		src  string
		want bool
	}{
		{`missing == null`, true},
		{`missing != null`, false},
		{`resource.owner == null`, true},
		{`missing > 5`, false},
		{`missing < 5`, false},
		{`missing == 5`, false},
		{`missing && true`, false},
		{`missing || true`, true},
		{`!missing`, true},
		{`"x" in missing`, false},
		{`agent.trust_level == "high"`, false},
		{`resource.cost > 100`, true},
		{`resource.cost == 150.0`, true}, // cross-type numeric equality
		{`resource["cost"] >= 150`, true},
	}
	for _, tc := range cases {
		compiled, err := c.Compile(tc.src)
		require.NoError(t, err, tc.src)
		got, err := compiled.EvalBool(ctx)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, got, tc.src)
	}
}

func TestEvaluateDenyWinsOverAllow(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{DenyWins: true})
	ctx := context.Background()

	_, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_prod",
		Name:     "production guardrails",
		Rules: []contracts.PolicyRule{
			{RuleID: "r_allow_ops", Name: "ops may deploy", Priority: 10, Enabled: true,
				Condition: `agent.team == "ops"`, Action: contracts.ActionAllow},
			{RuleID: "r_deny_prod", Name: "no prod deletes", Priority: 5, Enabled: true,
				Condition: `operation == "delete" && resource.env == "prod"`, Action: contracts.ActionDeny},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.PutAgent(ctx, &contracts.AgentRecord{AgentID: "a1", Team: "ops", TrustLevel: "high"}))

	dec, err := e.Evaluate(ctx, "a1", "delete", map[string]any{"env": "prod"}, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictDeny, dec.Verdict)
	assert.Equal(t, 1.0, dec.Confidence)
	assert.Len(t, dec.MatchedRules, 2)
	assert.Contains(t, dec.Explanation, "no prod deletes")

	// without the deny trigger the allow rule carries the decision
	dec, err = e.Evaluate(ctx, "a1", "delete", map[string]any{"env": "staging"}, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictAllow, dec.Verdict)
	assert.Equal(t, 1.0, dec.Confidence)
}

func TestEvaluateEscalateAndDefaultAllow(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{})
	ctx := context.Background()

	_, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_cost",
		Name:     "cost review",
		Rules: []contracts.PolicyRule{
			{RuleID: "r_cost", Priority: 1, Enabled: true,
				Condition: `resource.cost > 1000`, Action: contracts.ActionEscalate},
			{RuleID: "r_disabled", Priority: 9, Enabled: false,
				Condition: `true`, Action: contracts.ActionDeny},
		},
	})
	require.NoError(t, err)

	dec, err := e.Evaluate(ctx, "a_unknown", "provision", map[string]any{"cost": 5000}, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictEscalate, dec.Verdict)
	assert.Len(t, dec.MatchedRules, 1, "disabled rules never match")

	dec, err = e.Evaluate(ctx, "a_unknown", "provision", map[string]any{"cost": 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictAllow, dec.Verdict)
	assert.Equal(t, 0.5, dec.Confidence)
	assert.Empty(t, dec.MatchedRules)
}

func TestEvaluateUnknownAgentSeesNullAttributes(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{})
	ctx := context.Background()

	_, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_trust",
		Name:     "trust gate",
		Rules: []contracts.PolicyRule{
			{RuleID: "r_untrusted", Priority: 1, Enabled: true,
				Condition: `agent.trust_level == null`, Action: contracts.ActionEscalate},
		},
	})
	require.NoError(t, err)

	dec, err := e.Evaluate(ctx, "nobody", "read", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictEscalate, dec.Verdict)
}

// Property: the verdict is always the highest-precedence matched action,
// regardless of rule order or count.
func TestConflictResolutionProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	actionGen := gen.OneConstOf(contracts.ActionAllow, contracts.ActionDeny, contracts.ActionEscalate)

	properties.Property("deny-wins ordering holds", prop.ForAll(
		func(actions []contracts.RuleAction) bool {
			store := datastore.NewMemoryStore()
			e, err := NewEngine(store, Options{})
			if err != nil {
				return false
			}
			rules := make([]contracts.PolicyRule, len(actions))
			for i, a := range actions {
				rules[i] = contracts.PolicyRule{
					RuleID: contracts.NewID("rule"), Condition: "true",
					Action: a, Priority: i, Enabled: true,
				}
			}
			def := &contracts.PolicyDefinition{
				PolicyID: "pol_prop", Name: "prop", Version: "1.0.0",
				Scope: "global", Active: true, Rules: rules,
			}
			if err := store.PutPolicy(context.Background(), def); err != nil {
				return false
			}
			dec, err := e.Evaluate(context.Background(), "a1", "op", nil, nil)
			if err != nil {
				return false
			}

			want := contracts.VerdictAllow
			for _, a := range actions {
				if contracts.RuleAction(want).Precedence() < a.Precedence() {
					want = contracts.Verdict(a)
				}
			}
			return dec.Verdict == want && len(dec.MatchedRules) == len(actions)
		},
		gen.SliceOf(actionGen),
	))

	properties.TestingRun(t)
}

func TestRegistryLifecycle(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{})
	ctx := context.Background()

	rule := func(cond string, action contracts.RuleAction) contracts.PolicyRule {
		return contracts.PolicyRule{RuleID: "r1", Condition: cond, Action: action, Enabled: true}
	}

	first, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_a", Name: "a", Rules: []contracts.PolicyRule{rule(`true`, contracts.ActionAllow)},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", first.Version)
	assert.Equal(t, "global", first.Scope)
	assert.True(t, first.Active)

	// registering the same policy twice conflicts
	_, err = e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_a", Name: "a", Rules: []contracts.PolicyRule{rule(`true`, contracts.ActionAllow)},
	})
	assert.Equal(t, errcode.CodePolicyVersionConflict, errcode.CodeOf(err))

	// updates bump the minor version by default and deactivate the old one
	second, err := e.UpdatePolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_a", Name: "a", Rules: []contracts.PolicyRule{rule(`false`, contracts.ActionDeny)},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", second.Version)

	old, err := store.GetPolicy(ctx, "pol_a", "1.0.0")
	require.NoError(t, err)
	assert.False(t, old.Active)

	// explicit versions must strictly increase
	_, err = e.UpdatePolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "pol_a", Name: "a", Version: "1.1.0",
		Rules: []contracts.PolicyRule{rule(`true`, contracts.ActionAllow)},
	})
	assert.Equal(t, errcode.CodePolicyVersionConflict, errcode.CodeOf(err))

	versions, err := e.ListPolicyVersions(ctx, "pol_a")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.1.0", versions[0].Version)

	// rollback restores the old rules under a fresh version
	restored, err := e.RollbackPolicy(ctx, "pol_a", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", restored.Version)
	assert.True(t, restored.Active)
	assert.Equal(t, `true`, restored.Rules[0].Condition)
	assert.Equal(t, "1.0.0", restored.Metadata["rolled_back_from"])

	_, err = e.RollbackPolicy(ctx, "pol_a", "9.9.9")
	assert.Equal(t, errcode.CodePolicyRollbackFailed, errcode.CodeOf(err))
	_, err = e.RollbackPolicy(ctx, "pol_a", "1.2.0")
	assert.Equal(t, errcode.CodePolicyRollbackFailed, errcode.CodeOf(err), "active version cannot be a rollback target")

	require.NoError(t, e.DeactivatePolicy(ctx, "pol_a"))
	_, err = store.GetActivePolicy(ctx, "pol_a")
	assert.True(t, datastore.IsNotFound(err))
}

func TestRegistryRejectsInvalidDocuments(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{})
	ctx := context.Background()

	// missing rules
	_, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{PolicyID: "p", Name: "n"})
	require.Error(t, err)

	// bad scope
	_, err = e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "p", Name: "n", Scope: "galaxy",
		Rules: []contracts.PolicyRule{{RuleID: "r", Condition: "true", Action: contracts.ActionAllow, Enabled: true}},
	})
	require.Error(t, err)

	// invalid condition surfaces E8003
	_, err = e.RegisterPolicy(ctx, &contracts.PolicyDefinition{
		PolicyID: "p", Name: "n",
		Rules: []contracts.PolicyRule{{RuleID: "r", Condition: "size(x) > 1", Action: contracts.ActionDeny, Enabled: true}},
	})
	assert.Equal(t, errcode.CodePolicyInvalidCondition, errcode.CodeOf(err))
}

func TestVersionHistoryTrim(t *testing.T) {
	store := datastore.NewMemoryStore()
	e := newTestEngine(t, store, Options{MaxVersionHistory: 2})
	ctx := context.Background()

	rules := []contracts.PolicyRule{{RuleID: "r", Condition: "true", Action: contracts.ActionAllow, Enabled: true}}
	_, err := e.RegisterPolicy(ctx, &contracts.PolicyDefinition{PolicyID: "pol_t", Name: "t", Rules: rules})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := e.UpdatePolicy(ctx, &contracts.PolicyDefinition{PolicyID: "pol_t", Name: "t", Rules: rules})
		require.NoError(t, err)
	}

	versions, err := e.ListPolicyVersions(ctx, "pol_t")
	require.NoError(t, err)
	// active version plus at most two retained inactive versions
	assert.Len(t, versions, 3)
	assert.Equal(t, "1.4.0", versions[0].Version)
	assert.True(t, versions[0].Active)
}

func TestSnapshotTTLAndStaleServe(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	sc := newSnapshotCache(time.Minute, clock)

	loads := 0
	ok := func(context.Context) ([]*contracts.PolicyDefinition, error) {
		loads++
		return []*contracts.PolicyDefinition{{PolicyID: "p", Version: "1.0.0"}}, nil
	}
	failing := func(context.Context) ([]*contracts.PolicyDefinition, error) {
		loads++
		return nil, errors.New("store down")
	}

	snap1, err := sc.get(context.Background(), ok)
	require.NoError(t, err)
	snap2, err := sc.get(context.Background(), ok)
	require.NoError(t, err)
	assert.Same(t, snap1, snap2, "within the TTL the snapshot is reused")
	assert.Equal(t, 1, loads)

	// past the TTL with a failing store, the stale snapshot is served
	now = now.Add(2 * time.Minute)
	snap3, err := sc.get(context.Background(), failing)
	require.NoError(t, err)
	assert.Same(t, snap1, snap3)

	// with no snapshot at all, the failure surfaces as E8004
	sc.invalidate()
	_, err = sc.get(context.Background(), failing)
	assert.Equal(t, errcode.CodePolicyCacheError, errcode.CodeOf(err))

	// invalidation forces a refresh even inside the TTL
	loadsBefore := loads
	_, err = sc.get(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, loadsBefore+1, loads)
}

func TestSnapshotRulesSortedByPriority(t *testing.T) {
	sc := newSnapshotCache(time.Minute, time.Now)
	load := func(context.Context) ([]*contracts.PolicyDefinition, error) {
		return []*contracts.PolicyDefinition{{
			PolicyID: "p", Version: "1.0.0",
			Rules: []contracts.PolicyRule{
				{RuleID: "low", Priority: 1},
				{RuleID: "high", Priority: 10},
				{RuleID: "mid", Priority: 5},
			},
		}}, nil
	}
	snap, err := sc.get(context.Background(), load)
	require.NoError(t, err)
	got := []string{}
	for _, r := range snap.policies[0].Rules {
		got = append(got, r.RuleID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
}
