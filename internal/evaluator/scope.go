package evaluator

import (
	"github.com/authz-engine/go-core/internal/entitystore"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
)

// scopeMatchesEntity applies a principal/resource scope clause against the
// request's actual uid, using the EntityStore's precomputed ancestor
// closure for the "in"/"is-in" forms. No CEL involved: scope matching stays
// pure Go so it runs ahead of any policy whose condition body would be more
// expensive to compile and evaluate.
func scopeMatchesEntity(clause types.ScopeClause, uid types.EntityUid, store *entitystore.EntityStore) bool {
	switch clause.Op {
	case types.ScopeAny:
		return true
	case types.ScopeEq:
		return uid == clause.Uid
	case types.ScopeIn:
		return store.Membership(uid, clause.Uid)
	case types.ScopeIs:
		return uid.Kind == clause.Kind
	case types.ScopeIsIn:
		return uid.Kind == clause.Kind && store.Membership(uid, clause.Uid)
	default:
		return false
	}
}

// scopeMatchesAction applies an action scope clause. "==" requires the exact
// action name; "in" expands the named action or action group (or, for a
// bracketed list, the union of each name's expansion) to its transitive
// concrete-action membership. A group that itself is named by a Forbid
// policy's "in" clause therefore Forbid-matches every member action, which
// is the conservative rule this engine takes on an otherwise-unspecified
// interaction (see DESIGN.md). An unknown or unexpandable group is reported
// as an error rather than a silent non-match: evaluator.Evaluate treats it
// as an erroring policy and forces deny, so a broken Forbid can never fail
// open.
func scopeMatchesAction(clause types.ScopeClause, action string, sch *schema.Schema) (bool, error) {
	switch clause.Op {
	case types.ScopeAny:
		return true, nil
	case types.ScopeEq:
		return action == clause.Uid.ID, nil
	case types.ScopeIn:
		names := clause.Uids
		if names == nil {
			names = []types.EntityUid{clause.Uid}
		}
		for _, n := range names {
			expanded, err := sch.ExpandActionGroup(n.ID)
			if err != nil {
				return false, err
			}
			if expanded[action] {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}
