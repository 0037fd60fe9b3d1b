package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

var compiledPolicySchema = jsonschema.MustCompileString("policy.json", policyDocumentSchema)

// RegisterPolicy validates and stores a new policy. An empty version becomes
// 1.0.0; an empty scope becomes global. The snapshot is invalidated so the
// next evaluation sees the new policy.
func (e *Engine) RegisterPolicy(ctx context.Context, def *contracts.PolicyDefinition) (*contracts.PolicyDefinition, error) {
	if err := e.validateDefinition(def); err != nil {
		return nil, err
	}
	normalize(def, e.opts.Clock)
	if def.Version == "" {
		def.Version = "1.0.0"
	}

	if existing, err := e.store.ListPolicyVersions(ctx, def.PolicyID); err == nil && len(existing) > 0 {
		return nil, errcode.Newf(errcode.CodePolicyVersionConflict,
			"policy %s already exists; use UpdatePolicy", def.PolicyID)
	}

	def.Active = true
	if err := e.store.PutPolicy(ctx, def); err != nil {
		return nil, errcode.Wrap(errcode.CodePolicyDeployFailed, "store policy", err)
	}
	e.snaps.invalidate()
	return def, nil
}

// UpdatePolicy stores a new version of an existing policy and activates it.
// The version must be strictly greater than every stored version; when
// empty, the latest version's minor component is bumped. Prior versions are
// retained up to the configured history depth.
func (e *Engine) UpdatePolicy(ctx context.Context, def *contracts.PolicyDefinition) (*contracts.PolicyDefinition, error) {
	if err := e.validateDefinition(def); err != nil {
		return nil, err
	}

	versions, err := e.store.ListPolicyVersions(ctx, def.PolicyID)
	if err != nil || len(versions) == 0 {
		return nil, errcode.Newf(errcode.CodePolicyNotFound, "policy %s not found", def.PolicyID)
	}
	latest, err := latestVersion(versions)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeInternal, "stored versions are not semver", err)
	}

	if def.Version == "" {
		next := latest.IncMinor()
		def.Version = next.String()
	} else {
		proposed, err := semver.NewVersion(def.Version)
		if err != nil {
			return nil, errcode.Wrap(errcode.CodePolicyVersionConflict,
				fmt.Sprintf("version %q is not semver", def.Version), err)
		}
		if !proposed.GreaterThan(latest) {
			return nil, errcode.Newf(errcode.CodePolicyVersionConflict,
				"version %s does not increase on %s", def.Version, latest)
		}
	}

	normalize(def, e.opts.Clock)
	def.Active = true
	if err := e.store.PutPolicy(ctx, def); err != nil {
		return nil, errcode.Wrap(errcode.CodePolicyDeployFailed, "store policy", err)
	}
	e.trimHistory(ctx, def.PolicyID)
	e.snaps.invalidate()
	return def, nil
}

// RollbackPolicy re-activates the rules of an earlier version under a fresh,
// strictly greater version number, so the version history stays monotonic.
func (e *Engine) RollbackPolicy(ctx context.Context, policyID, targetVersion string) (*contracts.PolicyDefinition, error) {
	target, err := e.store.GetPolicy(ctx, policyID, targetVersion)
	if err != nil {
		if datastore.IsNotFound(err) {
			return nil, errcode.Newf(errcode.CodePolicyRollbackFailed,
				"policy %s version %s not found", policyID, targetVersion)
		}
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "load rollback target", err)
	}
	if target.Active {
		return nil, errcode.Newf(errcode.CodePolicyRollbackFailed,
			"version %s is already active", targetVersion)
	}

	versions, err := e.store.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "list policy versions", err)
	}
	latest, err := latestVersion(versions)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeInternal, "stored versions are not semver", err)
	}
	next := latest.IncMinor()

	restored := *target
	restored.Version = next.String()
	restored.Active = true
	if restored.Metadata == nil {
		restored.Metadata = map[string]any{}
	}
	restored.Metadata["rolled_back_from"] = targetVersion
	now := e.opts.Clock().UTC()
	restored.CreatedAt = now
	restored.UpdatedAt = now

	if err := e.store.PutPolicy(ctx, &restored); err != nil {
		return nil, errcode.Wrap(errcode.CodePolicyRollbackFailed, "store restored version", err)
	}
	e.trimHistory(ctx, policyID)
	e.snaps.invalidate()
	return &restored, nil
}

// DeactivatePolicy takes the active version of a policy out of evaluation.
func (e *Engine) DeactivatePolicy(ctx context.Context, policyID string) error {
	active, err := e.store.GetActivePolicy(ctx, policyID)
	if err != nil {
		if datastore.IsNotFound(err) {
			return errcode.Newf(errcode.CodePolicyNotFound, "no active version of %s", policyID)
		}
		return errcode.Wrap(errcode.CodeDataStoreUnreachable, "load active policy", err)
	}
	active.Active = false
	if err := e.store.PutPolicy(ctx, active); err != nil {
		return errcode.Wrap(errcode.CodePolicyDeployFailed, "deactivate policy", err)
	}
	e.snaps.invalidate()
	return nil
}

// ListPolicyVersions returns all stored versions, newest first.
func (e *Engine) ListPolicyVersions(ctx context.Context, policyID string) ([]*contracts.PolicyDefinition, error) {
	versions, err := e.store.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "list policy versions", err)
	}
	if len(versions) == 0 {
		return nil, errcode.Newf(errcode.CodePolicyNotFound, "policy %s not found", policyID)
	}
	sortVersionsDesc(versions)
	return versions, nil
}

// validateDefinition checks the document shape against the JSON Schema, then
// compiles every rule condition.
func (e *Engine) validateDefinition(def *contracts.PolicyDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return errcode.Wrap(errcode.CodeConfigTypeError, "encode policy document", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errcode.Wrap(errcode.CodeConfigTypeError, "decode policy document", err)
	}
	stripRegistryFields(doc)
	if err := compiledPolicySchema.Validate(doc); err != nil {
		return errcode.Wrap(errcode.CodePolicyInvalidCondition, "policy document invalid", err)
	}
	for i := range def.Rules {
		if _, err := e.compiler.Compile(def.Rules[i].Condition); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, def.Rules[i].RuleID, err)
		}
	}
	return nil
}

// stripRegistryFields drops fields the registry assigns itself so zero
// values on marshalled structs do not trip the schema patterns.
func stripRegistryFields(doc any) {
	m, ok := doc.(map[string]any)
	if !ok {
		return
	}
	delete(m, "created_at")
	delete(m, "updated_at")
	if v, _ := m["version"].(string); v == "" {
		delete(m, "version")
	}
	if s, _ := m["scope"].(string); s == "" {
		delete(m, "scope")
	}
}

func normalize(def *contracts.PolicyDefinition, clock func() time.Time) {
	if def.PolicyID == "" {
		def.PolicyID = contracts.NewID("pol")
	}
	if def.Scope == "" {
		def.Scope = "global"
	}
	for i := range def.Rules {
		if def.Rules[i].RuleID == "" {
			def.Rules[i].RuleID = contracts.NewID("rule")
		}
	}
	now := clock().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
}

// trimHistory deletes the oldest inactive versions beyond the retention
// depth. Failures are logged, not fatal: history trimming is housekeeping.
func (e *Engine) trimHistory(ctx context.Context, policyID string) {
	versions, err := e.store.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return
	}
	sortVersionsDesc(versions)
	kept := 0
	for _, v := range versions {
		if v.Active {
			continue
		}
		kept++
		if kept > e.opts.MaxVersionHistory {
			if err := e.store.DeletePolicyVersion(ctx, policyID, v.Version); err != nil {
				e.logger.Warn("trim policy history failed",
					"policy_id", policyID, "version", v.Version, "error", err)
			}
		}
	}
}

func latestVersion(versions []*contracts.PolicyDefinition) (*semver.Version, error) {
	var latest *semver.Version
	for _, v := range versions {
		sv, err := semver.NewVersion(v.Version)
		if err != nil {
			return nil, err
		}
		if latest == nil || sv.GreaterThan(latest) {
			latest = sv
		}
	}
	return latest, nil
}

func sortVersionsDesc(versions []*contracts.PolicyDefinition) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, ei := semver.NewVersion(versions[i].Version)
		vj, ej := semver.NewVersion(versions[j].Version)
		if ei != nil || ej != nil {
			return versions[i].Version > versions[j].Version
		}
		return vi.GreaterThan(vj)
	})
}
