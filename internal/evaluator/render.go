package evaluator

import (
	"github.com/authz-engine/go-core/internal/entitystore"
	"github.com/authz-engine/go-core/pkg/types"
)

// renderEntity projects an entity into the plain-Go map shape the CEL
// environment's "principal"/"resource"/attribute-chain variables expect:
// "uid" and "__ancestors" for the in() binding, "tags" (and a "properties"
// alias onto the same map, per the policy grammar's
// `resource.properties.getTag(...)` form) for hasTag/getTag, and every
// declared attribute at the top level so `resource.warehouse.name` chains
// through an entity-uid-typed attribute into the referenced entity's own
// map. cache memoizes by uid so diamond-shaped ancestry (e.g. two tables
// under the same namespace) renders each ancestor once per request.
func renderEntity(uid types.EntityUid, store *entitystore.EntityStore, cache map[types.EntityUid]map[string]interface{}) map[string]interface{} {
	if m, ok := cache[uid]; ok {
		return m
	}
	m := map[string]interface{}{"uid": uid.String()}
	cache[uid] = m

	e, ok := store.Get(uid)
	if !ok {
		return m
	}
	m["__ancestors"] = toInterfaceSlice(store.AncestorStrings(uid))

	for name, val := range e.Attrs {
		m[name] = renderValue(val, store, cache)
	}

	tags := make(map[string]interface{}, len(e.Tags))
	for key, val := range e.Tags {
		tags[key] = renderValue(val, store, cache)
	}
	m["tags"] = tags
	m["properties"] = map[string]interface{}{"uid": uid.String(), "tags": tags}
	return m
}

// renderValue converts a TypedValue for CEL, resolving entity-uid values
// into the referenced entity's rendered map rather than just its uid string,
// so attribute chaining through an entity reference works.
func renderValue(v types.TypedValue, store *entitystore.EntityStore, cache map[types.EntityUid]map[string]interface{}) interface{} {
	switch v.Kind {
	case types.ValueEntityUid:
		return renderEntity(v.Uid, store, cache)
	case types.ValueSet:
		out := make([]interface{}, len(v.Set))
		for i, e := range v.Set {
			out[i] = renderValue(e, store, cache)
		}
		return out
	case types.ValueRecord:
		out := make(map[string]interface{}, len(v.Record))
		for k, e := range v.Record {
			out[k] = renderValue(e, store, cache)
		}
		return out
	default:
		return v.ToCEL()
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
