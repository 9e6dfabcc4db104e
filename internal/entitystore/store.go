// Package entitystore builds the immutable, precomputed entity graph a
// Snapshot carries: the uid->Entity map plus its ancestor closure, so
// membership tests are O(1) on the hot path.
package entitystore

import (
	"fmt"
	"strings"

	"github.com/authz-engine/go-core/internal/errs"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
)

// StoreError reports a structural problem discovered while building an
// EntityStore (duplicate uid, missing parent target, cycle, schema
// violation).
type StoreError struct {
	ErrKind errs.Kind
	Reason  string
}

func (e *StoreError) Error() string { return "entity store: " + e.Reason }

func (e *StoreError) Kind() errs.Kind { return e.ErrKind }

func newStoreError(format string, args ...interface{}) *StoreError {
	return &StoreError{ErrKind: errs.KindSchema, Reason: fmt.Sprintf(format, args...)}
}

func newDuplicateError(format string, args ...interface{}) *StoreError {
	return &StoreError{ErrKind: errs.KindDuplicateId, Reason: fmt.Sprintf(format, args...)}
}

// EntityStore is an immutable map of EntityUid -> Entity plus a precomputed
// ancestor closure (each uid mapped to the set of its ancestors, itself
// included, since "in" is reflexive).
type EntityStore struct {
	entities  map[types.EntityUid]*types.Entity
	ancestors map[types.EntityUid]map[types.EntityUid]bool
}

// Get returns the entity for uid, or false if absent.
func (s *EntityStore) Get(uid types.EntityUid) (*types.Entity, bool) {
	e, ok := s.entities[uid]
	return e, ok
}

// All returns every entity in the store, for callers (RequestBuilder) that
// need to merge a persistent store's entities with fresh request-scoped
// ones before rebuilding a combined EntityStore.
func (s *EntityStore) All() []*types.Entity {
	out := make([]*types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out
}

// Membership reports whether parent is an ancestor of child (reflexive):
// "A in B" holds when B is reachable from A by following parent edges, or
// A == B.
func (s *EntityStore) Membership(child, parent types.EntityUid) bool {
	set, ok := s.ancestors[child]
	if !ok {
		return child == parent
	}
	return set[parent]
}

// AncestorStrings returns the ancestor-uid set of uid (itself included) as a
// slice of their string form, the shape the CEL activation's "__ancestors"
// field expects.
func (s *EntityStore) AncestorStrings(uid types.EntityUid) []string {
	set := s.ancestors[uid]
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a.String())
	}
	return out
}

// Build validates every entity against sch, topologically sorts by parent
// edges (failing on a cycle), and materializes the ancestor closure.
func Build(sch *schema.Schema, entities []*types.Entity) (*EntityStore, error) {
	byUid := make(map[types.EntityUid]*types.Entity, len(entities))
	for _, e := range entities {
		if _, dup := byUid[e.Uid]; dup {
			return nil, newDuplicateError("duplicate entity uid %s", e.Uid)
		}
		byUid[e.Uid] = e
	}
	for _, e := range entities {
		if err := sch.ValidateEntity(e); err != nil {
			return nil, err
		}
		for _, parent := range e.Parents {
			target, ok := byUid[parent]
			if !ok {
				return nil, newStoreError("entity %s references missing parent %s", e.Uid, parent)
			}
			if err := sch.ValidateParentEdge(e.Uid.Kind, target.Uid.Kind); err != nil {
				return nil, err
			}
		}
	}

	order, err := topologicalOrder(byUid)
	if err != nil {
		return nil, err
	}

	ancestors := make(map[types.EntityUid]map[types.EntityUid]bool, len(byUid))
	// Process in reverse topological order (roots first) so each entity's
	// parents' ancestor sets are already complete when we union them in.
	for i := len(order) - 1; i >= 0; i-- {
		uid := order[i]
		set := map[types.EntityUid]bool{uid: true}
		for _, parent := range byUid[uid].Parents {
			set[parent] = true
			for a := range ancestors[parent] {
				set[a] = true
			}
		}
		ancestors[uid] = set
	}

	return &EntityStore{entities: byUid, ancestors: ancestors}, nil
}

// topologicalOrder runs Kahn's algorithm over the parent-edge graph (edges
// point child -> parent) and returns entities ordered children-before-
// parents, detecting cycles by what is left over: if not every node is
// processed, a cycle remains.
func topologicalOrder(byUid map[types.EntityUid]*types.Entity) ([]types.EntityUid, error) {
	inDegree := make(map[types.EntityUid]int, len(byUid))
	for uid := range byUid {
		inDegree[uid] = 0
	}
	for _, e := range byUid {
		for _, p := range e.Parents {
			inDegree[p]++
		}
	}

	queue := make([]types.EntityUid, 0)
	for uid, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, uid)
		}
	}

	sorted := make([]types.EntityUid, 0, len(byUid))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sorted = append(sorted, cur)
		for _, p := range byUid[cur].Parents {
			inDegree[p]--
			if inDegree[p] == 0 {
				queue = append(queue, p)
			}
		}
	}

	if len(sorted) != len(byUid) {
		return nil, newStoreError("cycle detected in parent edges: %s", describeCycle(byUid, inDegree))
	}
	return sorted, nil
}

// describeCycle names the entities still holding a nonzero in-degree after
// Kahn's algorithm drains, which are exactly the ones on or reachable from a
// cycle, for a more actionable load-time error.
func describeCycle(byUid map[types.EntityUid]*types.Entity, inDegree map[types.EntityUid]int) string {
	var remaining []string
	for uid, deg := range inDegree {
		if deg > 0 {
			remaining = append(remaining, uid.String())
		}
	}
	_ = byUid
	return strings.Join(remaining, ", ")
}
