// Package types provides the shared data model for the authorization engine:
// entity identity, typed values, policies, and decisions.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// EntityKind is one of the fixed resource/principal kinds the catalog
// hierarchy is built from.
type EntityKind string

const (
	KindServer    EntityKind = "Server"
	KindProject   EntityKind = "Project"
	KindWarehouse EntityKind = "Warehouse"
	KindNamespace EntityKind = "Namespace"
	KindTable     EntityKind = "Table"
	KindView      EntityKind = "View"
	KindUser      EntityKind = "User"
	KindRole      EntityKind = "Role"
)

// TagBearingKinds support free-form tags and therefore access-prefixed
// properties; all other kinds do not.
var TagBearingKinds = map[EntityKind]bool{
	KindTable:     true,
	KindNamespace: true,
	KindView:      true,
}

func (k EntityKind) Valid() bool {
	switch k {
	case KindServer, KindProject, KindWarehouse, KindNamespace, KindTable, KindView, KindUser, KindRole:
		return true
	}
	return false
}

// EntityUid identifies an entity by kind and a kind-specific id string.
type EntityUid struct {
	Kind EntityKind
	ID   string
}

func NewEntityUid(kind EntityKind, id string) EntityUid {
	return EntityUid{Kind: kind, ID: id}
}

func (u EntityUid) String() string {
	return fmt.Sprintf("%s::%q", u.Kind, u.ID)
}

func (u EntityUid) IsZero() bool {
	return u.Kind == "" && u.ID == ""
}

// ValueKind tags which case of TypedValue is populated.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueLong
	ValueBool
	ValueEntityUid
	ValueSet
	ValueRecord
)

// TypedValue is the sum type every attribute, tag, and context field value
// takes: string | long | bool | entity-uid | set | record. Sets and records
// are heterogeneous until Schema validation constrains them.
type TypedValue struct {
	Kind   ValueKind
	Str    string
	Long   int64
	Bool   bool
	Uid    EntityUid
	Set    []TypedValue
	Record map[string]TypedValue
}

func StringValue(s string) TypedValue { return TypedValue{Kind: ValueString, Str: s} }
func LongValue(n int64) TypedValue    { return TypedValue{Kind: ValueLong, Long: n} }
func BoolValue(b bool) TypedValue     { return TypedValue{Kind: ValueBool, Bool: b} }
func UidValue(u EntityUid) TypedValue { return TypedValue{Kind: ValueEntityUid, Uid: u} }

func SetValue(vs []TypedValue) TypedValue { return TypedValue{Kind: ValueSet, Set: vs} }

func RecordValue(r map[string]TypedValue) TypedValue {
	return TypedValue{Kind: ValueRecord, Record: r}
}

// ToCEL renders the value into the plain-Go shape cel-go's dynamic typing
// expects (string, int64, bool, map[string]interface{}, []interface{}).
func (v TypedValue) ToCEL() interface{} {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueLong:
		return v.Long
	case ValueBool:
		return v.Bool
	case ValueEntityUid:
		return v.Uid.String()
	case ValueSet:
		out := make([]interface{}, len(v.Set))
		for i, e := range v.Set {
			out[i] = e.ToCEL()
		}
		return out
	case ValueRecord:
		out := make(map[string]interface{}, len(v.Record))
		for k, e := range v.Record {
			out[k] = e.ToCEL()
		}
		return out
	default:
		return nil
	}
}

// Entity is one node of the entity graph: identity, attributes, tags (for
// tag-bearing kinds), and parent edges.
type Entity struct {
	Uid     EntityUid
	Attrs   map[string]TypedValue
	Tags    map[string]TypedValue
	Parents []EntityUid
}

func NewEntity(uid EntityUid) *Entity {
	return &Entity{
		Uid:   uid,
		Attrs: make(map[string]TypedValue),
		Tags:  make(map[string]TypedValue),
	}
}

func (e *Entity) Attr(name string) (TypedValue, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// ProjectRole is a flat (provider_id, source_id) pair projected onto a User
// from an identity token's roles claim, independent of parent edges.
type ProjectRole struct {
	ProviderID string
	SourceID   string
}

func (p ProjectRole) ToCEL() map[string]interface{} {
	return map[string]interface{}{"provider_id": p.ProviderID, "source_id": p.SourceID}
}

// Effect is the polarity of a Policy.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectForbid Effect = "forbid"
)

// ScopeOp is the comparison operator of a principal/action/resource scope
// clause.
type ScopeOp int

const (
	ScopeAny  ScopeOp = iota // no constraint ("principal,")
	ScopeEq                  // == entity-uid
	ScopeIn                  // in entity-uid | in Kind::"id"
	ScopeIs                  // is Kind
	ScopeIsIn                // is Kind in entity-uid
)

// ScopeClause constrains one of principal/action/resource.
type ScopeClause struct {
	Op   ScopeOp
	Kind EntityKind  // for Is / IsIn
	Uid  EntityUid   // for Eq / In / IsIn
	Uids []EntityUid // for action scopes naming an explicit set
}

// Policy is one parsed permit/forbid rule.
type Policy struct {
	ID          string
	Annotations map[string]string
	Effect      Effect
	Principal   ScopeClause
	Action      ScopeClause
	Resource    ScopeClause
	When        []string // CEL source, ANDed
	Unless      []string // CEL source, ANDed then negated
	SourceFile  string
	Line        int
}

// PolicySet is the merged collection of policies from all loaded sources.
// Evaluation is order-independent except that any matching Forbid wins.
type PolicySet struct {
	Policies []*Policy
}

func (ps *PolicySet) ByID(id string) *Policy {
	for _, p := range ps.Policies {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FieldType names a primitive/compound type for schema declarations.
type FieldType struct {
	Primitive string // "string" | "long" | "bool" | "entity-uid" | "set" | "record"
	OfKind    EntityKind
	Elem      *FieldType
	Fields    map[string]FieldType
}

// Action is a symbolic operation name with its declared applicable
// (principal, resource) kind pairs and a context record shape.
type Action struct {
	Name           string
	PrincipalKinds []EntityKind
	ResourceKinds  []EntityKind
	ContextFields  map[string]FieldType
	MemberOf       []string // action groups this action directly belongs to
}

// Decision is the outcome of evaluating one (principal, action, resource,
// context) request against a PolicySet.
type Decision struct {
	Allow               bool
	DeterminingPolicies []string
	ErroringPolicies    []string
}

func newDecision(allow bool, determining, erroring []string) Decision {
	determining = append([]string(nil), determining...)
	erroring = append([]string(nil), erroring...)
	sort.Strings(determining)
	sort.Strings(erroring)
	return Decision{Allow: allow, DeterminingPolicies: determining, ErroringPolicies: erroring}
}

func AllowDecision(determining []string) Decision {
	return newDecision(true, determining, nil)
}

func DenyDecision(determining, erroring []string) Decision {
	return newDecision(false, determining, erroring)
}

// ResourcePropertyValue is the output of the PropertyParser for one resource
// property key.
type ResourcePropertyValue struct {
	Raw   string
	Roles []EntityUid
	Users []EntityUid
}

// ToTypedValue renders a ResourcePropertyValue as the record TypedValue
// stored in an Entity's Tags map, so it flows through the same rendering
// path (and hasTag/getTag CEL bindings) as any other tag value.
func (r ResourcePropertyValue) ToTypedValue() TypedValue {
	roles := make([]TypedValue, len(r.Roles))
	for i, u := range r.Roles {
		roles[i] = UidValue(u)
	}
	users := make([]TypedValue, len(r.Users))
	for i, u := range r.Users {
		users[i] = UidValue(u)
	}
	return RecordValue(map[string]TypedValue{
		"raw":   StringValue(r.Raw),
		"roles": SetValue(roles),
		"users": SetValue(users),
	})
}

func (r ResourcePropertyValue) ToCEL() map[string]interface{} {
	roles := make([]interface{}, len(r.Roles))
	for i, u := range r.Roles {
		roles[i] = u.String()
	}
	users := make([]interface{}, len(r.Users))
	for i, u := range r.Users {
		users[i] = u.String()
	}
	return map[string]interface{}{"raw": r.Raw, "roles": roles, "users": users}
}

// ParseEntityRef parses the textual `Kind::"id"` form used by scope clauses
// and `in`/`==` targets in the policy grammar.
func ParseEntityRef(s string) (EntityUid, error) {
	parts := strings.SplitN(s, "::", 2)
	if len(parts) != 2 {
		return EntityUid{}, fmt.Errorf("invalid entity reference %q: expected Kind::\"id\"", s)
	}
	kind := EntityKind(parts[0])
	if !kind.Valid() {
		return EntityUid{}, fmt.Errorf("invalid entity reference %q: unknown kind %q", s, parts[0])
	}
	id := strings.Trim(parts[1], `"`)
	return EntityUid{Kind: kind, ID: id}, nil
}
