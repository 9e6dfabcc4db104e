// Package evaluator applies a PolicySet to one (principal, action, resource,
// context) request over an EntityStore and returns a Decision, per spec
// section 4.8: scope-match filtering in pure Go, then CEL evaluation of the
// surviving policies' when/unless bodies, then the Forbid/error-dominates
// decision rule.
package evaluator

import (
	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/entitystore"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
)

// Evaluator holds the two pieces of shared, read-only state a Snapshot
// carries that evaluation needs beyond the EntityStore/PolicySet passed
// per-call: the Schema (for action-group expansion) and the CEL engine
// (for when/unless compilation, cached across requests by expression text).
type Evaluator struct {
	Schema *schema.Schema
	CEL    *cel.Engine
}

func New(sch *schema.Schema, celEngine *cel.Engine) *Evaluator {
	return &Evaluator{Schema: sch, CEL: celEngine}
}

// Evaluate is the Core contract of spec section 4.8:
// evaluate(principal_uid, action, resource_uid, context, entities, policies) -> Decision.
// It is total: every call returns a Decision, never an error, since an
// expression error is itself a recorded, handled outcome (forced deny).
func (ev *Evaluator) Evaluate(
	principal types.EntityUid,
	action string,
	resource types.EntityUid,
	context map[string]types.TypedValue,
	entities *entitystore.EntityStore,
	policies *types.PolicySet,
) types.Decision {
	cache := make(map[types.EntityUid]map[string]interface{})
	evalCtx := &cel.EvalContext{
		Principal: renderEntity(principal, entities, cache),
		Action:    action,
		Resource:  renderEntity(resource, entities, cache),
		Context:   renderContext(context, entities, cache),
	}

	var permits, forbids, erroring []string
	for _, p := range policies.Policies {
		if !scopeMatchesEntity(p.Principal, principal, entities) {
			continue
		}
		if !scopeMatchesEntity(p.Resource, resource, entities) {
			continue
		}
		actionMatched, err := scopeMatchesAction(p.Action, action, ev.Schema)
		if err != nil {
			erroring = append(erroring, p.ID)
			continue
		}
		if !actionMatched {
			continue
		}

		matched, errored := ev.evaluateConditions(p, evalCtx)
		switch {
		case errored:
			erroring = append(erroring, p.ID)
		case !matched:
			// scope matched, condition did not: neither permit nor forbid.
		case p.Effect == types.EffectForbid:
			forbids = append(forbids, p.ID)
		case p.Effect == types.EffectPermit:
			permits = append(permits, p.ID)
		}
	}

	if len(forbids) > 0 || len(erroring) > 0 {
		determining := make([]string, 0, len(forbids)+len(erroring))
		determining = append(determining, forbids...)
		determining = append(determining, erroring...)
		return types.DenyDecision(determining, erroring)
	}
	if len(permits) > 0 {
		return types.AllowDecision(permits)
	}
	return types.DenyDecision(nil, nil)
}

// evaluateConditions evaluates the conjunction of when clauses and the
// conjunction of negated unless clauses. Any expression error (missing
// attr, tag on a non-bearing kind, overflow, a getTag miss not guarded by
// hasTag) makes the policy a residual error: neither Permit nor Forbid,
// recorded in erroring_policies. Short-circuiting is left to cel-go's own
// evaluation of && / ||; this just ANDs the top-level clause list and can
// stop at the first clause that resolves the outcome.
func (ev *Evaluator) evaluateConditions(p *types.Policy, ctx *cel.EvalContext) (matched bool, errored bool) {
	for _, expr := range p.When {
		ok, err := ev.CEL.EvaluateExpression(expr, ctx)
		if err != nil {
			return false, true
		}
		if !ok {
			return false, false
		}
	}
	for _, expr := range p.Unless {
		ok, err := ev.CEL.EvaluateExpression(expr, ctx)
		if err != nil {
			return false, true
		}
		if ok {
			return false, false
		}
	}
	return true, false
}

func renderContext(context map[string]types.TypedValue, entities *entitystore.EntityStore, cache map[types.EntityUid]map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(context))
	for k, v := range context {
		out[k] = renderValue(v, entities, cache)
	}
	return out
}
