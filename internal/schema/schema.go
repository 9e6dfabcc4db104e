// Package schema holds the typed catalog of entity kinds, attributes, and
// actions the policy language and entity store are validated against.
package schema

import (
	"fmt"

	"github.com/authz-engine/go-core/internal/errs"
	"github.com/authz-engine/go-core/pkg/types"
)

// SchemaError reports a structural violation of the schema, found while
// validating an entity, a policy, or the schema document itself.
type SchemaError struct {
	Category string // what failed to validate: "entity" | "policy" | "schema"
	Subject  string // entity uid, policy id, or schema source name
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error (%s %q): %s", e.Category, e.Subject, e.Reason)
}

func (e *SchemaError) Kind() errs.Kind { return errs.KindSchema }

func newSchemaError(category, subject, reason string, args ...interface{}) *SchemaError {
	return &SchemaError{Category: category, Subject: subject, Reason: fmt.Sprintf(reason, args...)}
}

// KindDef is the declared shape of one entity kind.
type KindDef struct {
	Attrs   map[string]types.FieldType
	HasTags bool
}

// Schema is the typed catalog: entity kinds with their attrs/tag support,
// and actions with their applicable principal/resource kinds, context shape,
// and group membership.
type Schema struct {
	Kinds   map[types.EntityKind]*KindDef
	Actions map[string]*types.Action
	// Groups maps an action-group name to the actions/groups that are its
	// direct members; a policy referencing the group matches the transitive
	// closure, computed by ExpandActionGroup.
	Groups map[string][]string
}

// Load merges the built-in schema with an optional customization document.
// Duplicate declarations with conflicting types fail load.
func Load(customKinds map[types.EntityKind]*KindDef, customActions map[string]*types.Action, customGroups map[string][]string) (*Schema, error) {
	s := Builtin()
	for kind, def := range customKinds {
		if existing, ok := s.Kinds[kind]; ok {
			if err := mergeKindDef(kind, existing, def); err != nil {
				return nil, err
			}
			continue
		}
		s.Kinds[kind] = def
	}
	for name, action := range customActions {
		if _, ok := s.Actions[name]; ok {
			return nil, newSchemaError("schema", name, "duplicate action declaration")
		}
		s.Actions[name] = action
	}
	for group, members := range customGroups {
		s.Groups[group] = append(s.Groups[group], members...)
	}
	if err := s.checkActionGroupCycles(); err != nil {
		return nil, err
	}
	return s, nil
}

func mergeKindDef(kind types.EntityKind, existing, incoming *KindDef) error {
	for name, ft := range incoming.Attrs {
		if have, ok := existing.Attrs[name]; ok && have.Primitive != ft.Primitive {
			return newSchemaError("schema", string(kind), "conflicting type for attr %q: %s vs %s", name, have.Primitive, ft.Primitive)
		}
		existing.Attrs[name] = ft
	}
	if incoming.HasTags {
		existing.HasTags = true
	}
	return nil
}

// ValidateEntity checks that an entity's attrs and tags conform to the
// schema, and that entity-uid-typed attrs reference the declared kind.
func (s *Schema) ValidateEntity(e *types.Entity) error {
	def, ok := s.Kinds[e.Uid.Kind]
	if !ok {
		return newSchemaError("entity", e.Uid.String(), "unknown entity kind %q", e.Uid.Kind)
	}
	for name, val := range e.Attrs {
		ft, declared := def.Attrs[name]
		if !declared {
			return newSchemaError("entity", e.Uid.String(), "undeclared attr %q for kind %s", name, e.Uid.Kind)
		}
		if ft.Primitive == "entity-uid" && val.Kind == types.ValueEntityUid {
			if ft.OfKind != "" && val.Uid.Kind != ft.OfKind {
				return newSchemaError("entity", e.Uid.String(), "attr %q must reference kind %s, got %s", name, ft.OfKind, val.Uid.Kind)
			}
		}
	}
	if len(e.Tags) > 0 && !def.HasTags {
		return newSchemaError("entity", e.Uid.String(), "kind %s does not support tags", e.Uid.Kind)
	}
	switch e.Uid.Kind {
	case types.KindRole:
		if _, ok := e.Attr("provider_id"); !ok {
			return newSchemaError("entity", e.Uid.String(), "Role entity must carry attr provider_id")
		}
		if _, ok := e.Attr("source_id"); !ok {
			return newSchemaError("entity", e.Uid.String(), "Role entity must carry attr source_id")
		}
	case types.KindUser:
		for _, required := range []string{"provider_id", "source_id", "roles", "project_roles"} {
			if _, ok := e.Attr(required); !ok {
				return newSchemaError("entity", e.Uid.String(), "User entity must carry attr %s", required)
			}
		}
	}
	return nil
}

// ValidateParentEdge checks that a kind-to-kind parent edge matches the
// schema's declared membership relation.
func (s *Schema) ValidateParentEdge(child, parent types.EntityKind) error {
	allowed, ok := parentKindRules[child]
	if !ok {
		return nil // kinds without a parent rule (Server, User, Role) are not checked: any parent kind is accepted
	}
	for _, p := range allowed {
		if p == parent {
			return nil
		}
	}
	return newSchemaError("schema", string(child), "parent kind %s is not permitted (allowed: %v)", parent, allowed)
}

// parentKindRules declares which parent kinds each child kind may have.
var parentKindRules = map[types.EntityKind][]types.EntityKind{
	types.KindProject:   {types.KindServer},
	types.KindWarehouse:  {types.KindProject},
	types.KindNamespace: {types.KindWarehouse, types.KindNamespace},
	types.KindTable:      {types.KindNamespace},
	types.KindView:       {types.KindNamespace},
}

// ValidatePolicy checks that every action or action group and every scope
// kind a policy references exists. Attribute and context references inside
// when/unless bodies are not checked.
func (s *Schema) ValidatePolicy(p *types.Policy) error {
	if p.Action.Op != types.ScopeAny {
		for _, uid := range actionTargets(p.Action) {
			if _, ok := s.Actions[uid.ID]; !ok {
				if _, isGroup := s.Groups[uid.ID]; !isGroup {
					return newSchemaError("policy", p.ID, "unknown action or action group %q", uid.ID)
				}
			}
		}
	}
	for _, clause := range []types.ScopeClause{p.Principal, p.Resource} {
		if clause.Kind != "" {
			if _, ok := s.Kinds[clause.Kind]; !ok {
				return newSchemaError("policy", p.ID, "unknown kind %q in scope", clause.Kind)
			}
		}
		if !clause.Uid.IsZero() {
			if _, ok := s.Kinds[clause.Uid.Kind]; !ok {
				return newSchemaError("policy", p.ID, "unknown kind %q in scope target", clause.Uid.Kind)
			}
		}
	}
	return nil
}

func actionTargets(c types.ScopeClause) []types.EntityUid {
	if !c.Uid.IsZero() {
		return []types.EntityUid{c.Uid}
	}
	return c.Uids
}

// ExpandActionGroup returns the transitive set of concrete action names
// contained in the named action (itself, if it already names a concrete
// action, or its transitive group members otherwise).
func (s *Schema) ExpandActionGroup(name string) (map[string]bool, error) {
	visited := make(map[string]bool)
	out := make(map[string]bool)
	var walk func(string, []string) error
	walk = func(n string, path []string) error {
		if visited[n] {
			return nil
		}
		for _, p := range path {
			if p == n {
				return newSchemaError("schema", name, "circular action-group membership: %v", append(path, n))
			}
		}
		path = append(path, n)
		if _, isAction := s.Actions[n]; isAction {
			out[n] = true
		}
		for _, member := range s.Groups[n] {
			if err := walk(member, path); err != nil {
				return err
			}
		}
		visited[n] = true
		return nil
	}
	if err := walk(name, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// checkActionGroupCycles validates every declared group's membership is
// acyclic by expanding each group with ExpandActionGroup, whose path check
// reports a group that reaches itself, so a cycle is caught at schema-merge
// time rather than at first policy match.
func (s *Schema) checkActionGroupCycles() error {
	for group := range s.Groups {
		if _, err := s.ExpandActionGroup(group); err != nil {
			return err
		}
	}
	return nil
}
