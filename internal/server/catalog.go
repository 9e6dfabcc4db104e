package server

import (
	"fmt"

	"github.com/authz-engine/go-core/internal/requestbuilder"
	"github.com/authz-engine/go-core/pkg/types"
)

// buildCatalog turns a request's inline resource_chain into the
// requestbuilder.CatalogResolver BuildScope needs, standing in for the live
// catalog connection spec.md §1 places out of this engine's scope.
func buildCatalog(nodes []ResourceNode) (*requestbuilder.FakeCatalog, error) {
	fc := requestbuilder.NewFakeCatalog()
	for _, n := range nodes {
		uid, err := types.ParseEntityRef(string(n.Uid))
		if err != nil {
			return nil, fmt.Errorf("resource_chain entry uid: %w", err)
		}
		attrs, err := attrsToTypedValues(n.Attrs)
		if err != nil {
			return nil, fmt.Errorf("resource_chain entry %s: %w", uid, err)
		}
		entry := requestbuilder.CatalogEntity{Attrs: attrs, Properties: n.Properties}
		if n.ParentUid != "" {
			parent, err := types.ParseEntityRef(string(n.ParentUid))
			if err != nil {
				return nil, fmt.Errorf("resource_chain entry %s parent_uid: %w", uid, err)
			}
			entry.Parent = parent
			entry.HasParent = true
		}
		fc.Put(uid, entry)
	}
	return fc, nil
}

func attachPrincipalRoles(fc *requestbuilder.FakeCatalog, principal types.EntityUid, roles []EntityRef) error {
	uids := make([]types.EntityUid, 0, len(roles))
	for _, r := range roles {
		uid, err := types.ParseEntityRef(string(r))
		if err != nil {
			return fmt.Errorf("principal.roles entry: %w", err)
		}
		uids = append(uids, uid)
	}
	fc.PutRoles(principal, uids...)
	return nil
}

// attrsToTypedValues converts a ResourceNode's JSON attrs into TypedValues.
// A uid-typed attribute is written as the "Kind::\"id\"" textual form, same
// as resource/parent references, so the JSON contract has exactly one
// entity-reference syntax.
func attrsToTypedValues(attrs map[string]interface{}) (map[string]types.TypedValue, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]types.TypedValue, len(attrs))
	for name, raw := range attrs {
		tv, err := jsonToTypedValue(raw)
		if err != nil {
			return nil, fmt.Errorf("attrs[%q]: %w", name, err)
		}
		out[name] = tv
	}
	return out, nil
}

func jsonToTypedValue(v interface{}) (types.TypedValue, error) {
	switch val := v.(type) {
	case string:
		if uid, err := types.ParseEntityRef(val); err == nil {
			return types.UidValue(uid), nil
		}
		return types.StringValue(val), nil
	case bool:
		return types.BoolValue(val), nil
	case float64:
		return types.LongValue(int64(val)), nil
	case []interface{}:
		set := make([]types.TypedValue, len(val))
		for i, elem := range val {
			tv, err := jsonToTypedValue(elem)
			if err != nil {
				return types.TypedValue{}, err
			}
			set[i] = tv
		}
		return types.SetValue(set), nil
	case map[string]interface{}:
		rec, err := attrsToTypedValues(val)
		if err != nil {
			return types.TypedValue{}, err
		}
		return types.RecordValue(rec), nil
	default:
		return types.TypedValue{}, fmt.Errorf("unsupported JSON value type %T", v)
	}
}
