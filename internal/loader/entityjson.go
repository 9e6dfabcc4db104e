package loader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/pkg/types"
)

// entityRef is the `{ "type": "<Kind>", "id": "<id>" }` shape spec.md §6.2
// uses for uid, parent, and __entity references.
type entityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r entityRef) toUid() (types.EntityUid, error) {
	kind := types.EntityKind(r.Type)
	if !kind.Valid() {
		return types.EntityUid{}, fmt.Errorf("unknown entity kind %q", r.Type)
	}
	return types.NewEntityUid(kind, r.ID), nil
}

// entityJSON is one element of an entity_json_sources file: a JSON array of
// these, per spec.md §6.2.
type entityJSON struct {
	Uid     entityRef              `json:"uid"`
	Attrs   map[string]interface{} `json:"attrs"`
	Tags    map[string]string      `json:"tags"`
	Parents []entityRef            `json:"parents"`
}

// decodeEntities parses one entity source file's contents into Entities.
// Tag values are run through PropertyParser in Read mode (the same
// dual-failure-policy engine RequestBuilder uses for live catalog
// properties), with an empty current-project scope: a role: or role-full:
// entry without an explicit project id resolves to a Role uid whose project
// segment is empty ("/<provider>~<source>").
func decodeEntities(data []byte, parser *propertyparser.Parser) ([]*types.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []entityJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode entity source: %w", err)
	}

	out := make([]*types.Entity, 0, len(raw))
	for _, re := range raw {
		uid, err := re.Uid.toUid()
		if err != nil {
			return nil, fmt.Errorf("entity uid: %w", err)
		}
		e := types.NewEntity(uid)
		for name, v := range re.Attrs {
			tv, err := jsonValueToTypedValue(v)
			if err != nil {
				return nil, fmt.Errorf("entity %s attr %q: %w", uid, name, err)
			}
			e.Attrs[name] = tv
		}
		for _, p := range re.Parents {
			puid, err := p.toUid()
			if err != nil {
				return nil, fmt.Errorf("entity %s parent: %w", uid, err)
			}
			e.Parents = append(e.Parents, puid)
		}
		if len(re.Tags) > 0 {
			parsed, err := parser.ParseAll(re.Tags, propertyparser.Read, "")
			if err != nil {
				return nil, fmt.Errorf("entity %s tags: %w", uid, err)
			}
			for key, rpv := range parsed {
				e.Tags[key] = rpv.ToTypedValue()
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// jsonValueToTypedValue converts one decoded JSON value (string, bool,
// json.Number, []interface{}, or map[string]interface{}, the latter either
// an { "__entity": {...} } reference or a plain record) into a TypedValue.
func jsonValueToTypedValue(v interface{}) (types.TypedValue, error) {
	switch val := v.(type) {
	case nil:
		return types.StringValue(""), nil
	case string:
		return types.StringValue(val), nil
	case bool:
		return types.BoolValue(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("not a valid long: %w", err)
		}
		return types.LongValue(n), nil
	case []interface{}:
		set := make([]types.TypedValue, len(val))
		for i, elem := range val {
			tv, err := jsonValueToTypedValue(elem)
			if err != nil {
				return types.TypedValue{}, err
			}
			set[i] = tv
		}
		return types.SetValue(set), nil
	case map[string]interface{}:
		if entityRefVal, ok := val["__entity"]; ok {
			refMap, ok := entityRefVal.(map[string]interface{})
			if !ok {
				return types.TypedValue{}, fmt.Errorf("__entity must be an object")
			}
			kindStr, _ := refMap["type"].(string)
			idStr, _ := refMap["id"].(string)
			kind := types.EntityKind(kindStr)
			if !kind.Valid() {
				return types.TypedValue{}, fmt.Errorf("unknown entity kind %q", kindStr)
			}
			return types.UidValue(types.NewEntityUid(kind, idStr)), nil
		}
		rec := make(map[string]types.TypedValue, len(val))
		for k, elem := range val {
			tv, err := jsonValueToTypedValue(elem)
			if err != nil {
				return types.TypedValue{}, err
			}
			rec[k] = tv
		}
		return types.RecordValue(rec), nil
	default:
		return types.TypedValue{}, fmt.Errorf("unsupported JSON value type %T", v)
	}
}
