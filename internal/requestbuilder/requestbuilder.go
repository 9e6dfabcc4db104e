// Package requestbuilder assembles the request-scoped entity graph — the
// resource's ancestor chain with its access-prefixed properties parsed into
// tags, and the requesting User with catalog-assigned and token-sourced
// roles — per spec.md §4.7, then merges it with whatever persistent
// entities the current Snapshot carries into one EntityStore the Evaluator
// can run against.
package requestbuilder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/authz-engine/go-core/internal/entitystore"
	"github.com/authz-engine/go-core/internal/errs"
	"github.com/authz-engine/go-core/internal/loader"
	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
)

// Identity is the pre-authenticated caller, per spec.md's explicit
// non-goal that the core does not itself validate tokens: Claims arrives
// already verified by the surrounding system and is carried only for
// openid_roles_claim projection.
type Identity struct {
	ProviderID string
	Subject    string
	Claims     jwt.MapClaims
}

// Uid derives the requesting User's entity uid from its provider and
// subject, the same uid BuildScope assembles the User entity under.
func (i Identity) Uid() types.EntityUid {
	return types.NewEntityUid(types.KindUser, fmt.Sprintf("%s~%s", i.ProviderID, i.Subject))
}

// RequestBuilder holds the configuration that shapes assembly but carries
// no per-request state itself: BuildScope is safe to call concurrently from
// many goroutines, each with its own request-scoped entities.
type RequestBuilder struct {
	PropertyParser    *propertyparser.Parser
	Schema            *schema.Schema
	ExternallyManaged bool
	OpenIDRolesClaim  string
}

func New(sch *schema.Schema, parser *propertyparser.Parser, externallyManaged bool, openIDRolesClaim string) *RequestBuilder {
	return &RequestBuilder{
		Schema:            sch,
		PropertyParser:    parser,
		ExternallyManaged: externallyManaged,
		OpenIDRolesClaim:  openIDRolesClaim,
	}
}

// BuildScope assembles one request's entity graph and returns the merged
// EntityStore, the resolved principal uid, and the Action's Context record
// (rawContext's values for the context fields the Action declares, with
// table_properties_updates/_removal and their Namespace/View equivalents
// carried as sets of property-key strings).
func (rb *RequestBuilder) BuildScope(
	ctx context.Context,
	snap *loader.Snapshot,
	identity Identity,
	action string,
	resourceUid types.EntityUid,
	rawContext map[string]interface{},
	resolver CatalogResolver,
) (*entitystore.EntityStore, types.EntityUid, map[string]types.TypedValue, error) {
	resourceChain, projectID, err := rb.walkResourceChain(ctx, resourceUid, resolver)
	if err != nil {
		return nil, types.EntityUid{}, nil, errs.Wrap(errs.KindSchemaMismatch, err, "assemble resource chain for %s", resourceUid)
	}

	entities := append([]*types.Entity{}, snap.Entities.All()...)
	entities = append(entities, resourceChain...)

	principalUid := identity.Uid()
	if rb.ExternallyManaged {
		if _, ok := snap.Entities.Get(principalUid); !ok {
			return nil, types.EntityUid{}, nil, errs.New(errs.KindSchemaMismatch,
				"externally_managed_user_and_roles is set but %s is not present in any entity source", principalUid)
		}
	} else {
		userEntity, roleEntities, err := rb.buildUser(ctx, identity, resolver)
		if err != nil {
			return nil, types.EntityUid{}, nil, err
		}
		entities = append(entities, userEntity)
		entities = append(entities, roleEntities...)
	}

	store, err := entitystore.Build(rb.Schema, entities)
	if err != nil {
		return nil, types.EntityUid{}, nil, err
	}

	contextFields, err := rb.buildContext(action, rawContext, projectID)
	if err != nil {
		return nil, types.EntityUid{}, nil, err
	}

	return store, principalUid, contextFields, nil
}

// walkResourceChain follows CatalogResolver.Resource from resourceUid up
// through every parent edge, parsing access-prefixed properties into tags
// for tag-bearing kinds, and returns the assembled chain plus the Project
// id found along the way (used to scope unqualified role-full: references).
func (rb *RequestBuilder) walkResourceChain(ctx context.Context, uid types.EntityUid, resolver CatalogResolver) ([]*types.Entity, string, error) {
	var chain []*types.Entity
	props := make(map[*types.Entity]map[string]string)
	projectID := ""
	cur := uid
	seen := make(map[types.EntityUid]bool)
	for {
		if seen[cur] {
			return nil, "", fmt.Errorf("cycle in catalog parent chain at %s", cur)
		}
		seen[cur] = true

		ce, err := resolver.Resource(ctx, cur)
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s: %w", cur, err)
		}
		e := types.NewEntity(cur)
		for name, v := range ce.Attrs {
			e.Attrs[name] = v
		}
		if ce.HasParent {
			e.Parents = []types.EntityUid{ce.Parent}
		}
		if cur.Kind == types.KindProject {
			projectID = cur.ID
		}
		if types.TagBearingKinds[cur.Kind] && len(ce.Properties) > 0 {
			props[e] = ce.Properties
		}
		chain = append(chain, e)
		if !ce.HasParent {
			break
		}
		cur = ce.Parent
	}
	// Properties are parsed once the walk has reached the Project above the
	// resource, so unqualified role-full: references resolve against it.
	for e, raw := range props {
		parsed, err := rb.PropertyParser.ParseAll(raw, propertyparser.Read, projectID)
		if err != nil {
			return nil, "", fmt.Errorf("parse properties for %s: %w", e.Uid, err)
		}
		for key, rpv := range parsed {
			e.Tags[key] = rpv.ToTypedValue()
		}
	}
	return chain, projectID, nil
}

// buildUser assembles the requesting User entity: catalog-assigned Role
// uids (parented onto the User so "principal in Role::..." resolves via the
// ordinary ancestor-closure mechanism) plus token-sourced project_roles
// projected from the configured claim.
func (rb *RequestBuilder) buildUser(_ context.Context, identity Identity, resolver CatalogResolver) (*types.Entity, []*types.Entity, error) {
	uid := identity.Uid()
	e := types.NewEntity(uid)
	e.Attrs["provider_id"] = types.StringValue(identity.ProviderID)
	e.Attrs["source_id"] = types.StringValue(identity.Subject)

	catalogRoles, err := resolver.PrincipalRoles(context.Background(), uid)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve catalog roles for %s: %w", uid, err)
	}
	roleVals := make([]types.TypedValue, 0, len(catalogRoles))
	roleEntities := make([]*types.Entity, 0, len(catalogRoles))
	for _, r := range catalogRoles {
		roleVals = append(roleVals, types.UidValue(r))
		re, err := roleEntityFromUid(r)
		if err != nil {
			return nil, nil, fmt.Errorf("malformed catalog role uid %s: %w", r, err)
		}
		roleEntities = append(roleEntities, re)
	}
	e.Attrs["roles"] = types.SetValue(roleVals)
	e.Parents = append(e.Parents, catalogRoles...)

	projectRoles, err := rb.projectRolesFromClaims(identity.Claims)
	if err != nil {
		return nil, nil, err
	}
	e.Attrs["project_roles"] = types.SetValue(projectRoles)

	return e, roleEntities, nil
}

// roleUidRe parses a Role uid's id per spec.md §6.4:
// "<project-id>/<provider_id>~<source_id>".
var roleUidRe = regexp.MustCompile(`^([^/]+)/([^~]+)~(.+)$`)

func roleEntityFromUid(uid types.EntityUid) (*types.Entity, error) {
	m := roleUidRe.FindStringSubmatch(uid.ID)
	if m == nil {
		return nil, fmt.Errorf("does not match <project-id>/<provider_id>~<source_id>")
	}
	e := types.NewEntity(uid)
	e.Attrs["provider_id"] = types.StringValue(m[2])
	e.Attrs["source_id"] = types.StringValue(m[3])
	e.Attrs["project"] = types.UidValue(types.NewEntityUid(types.KindProject, m[1]))
	return e, nil
}

// projectRolesFromClaims projects the configured openid_roles_claim array
// claim into project_roles records. Each entry is expected in
// "<provider_id>~<source_id>" form, mirroring the role-full: property
// encoding elsewhere in the grammar (an Open Question resolution recorded
// in DESIGN.md, since the sources do not state this claim's exact shape).
func (rb *RequestBuilder) projectRolesFromClaims(claims jwt.MapClaims) ([]types.TypedValue, error) {
	if rb.OpenIDRolesClaim == "" || claims == nil {
		return nil, nil
	}
	raw, ok := claims[rb.OpenIDRolesClaim]
	if !ok {
		return nil, nil
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("claim %q is not an array", rb.OpenIDRolesClaim)
	}
	out := make([]types.TypedValue, 0, len(entries))
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			continue
		}
		parts := strings.SplitN(s, "~", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, types.RecordValue(map[string]types.TypedValue{
			"provider_id": types.StringValue(parts[0]),
			"source_id":   types.StringValue(parts[1]),
		}))
	}
	return out, nil
}

// buildContext renders rawContext into typed values for the context fields
// the Action declares. A *_properties_updates/*_properties_removal field
// must be a []string of property keys and becomes a set of strings; any
// other shape for it is a PropertyParseError. The proposed property values
// of a write are not seen here; ValidateWriteProperties checks them.
func (rb *RequestBuilder) buildContext(action string, rawContext map[string]interface{}, projectID string) (map[string]types.TypedValue, error) {
	act, ok := rb.Schema.Actions[action]
	if !ok || len(act.ContextFields) == 0 {
		return nil, nil
	}
	out := make(map[string]types.TypedValue, len(rawContext))
	for name, field := range act.ContextFields {
		raw, present := rawContext[name]
		if !present {
			continue
		}
		if strings.HasSuffix(name, "_properties_updates") || strings.HasSuffix(name, "_properties_removal") {
			keys, ok := raw.([]string)
			if !ok {
				return nil, errs.New(errs.KindPropertyParse, "context field %q must be a []string of property keys", name)
			}
			set := make([]types.TypedValue, len(keys))
			for i, k := range keys {
				set[i] = types.StringValue(k)
			}
			out[name] = types.SetValue(set)
			continue
		}
		_ = field
		tv, err := contextValueToTypedValue(raw)
		if err != nil {
			return nil, fmt.Errorf("context field %q: %w", name, err)
		}
		out[name] = tv
	}
	_ = projectID
	return out, nil
}

// ValidateWriteProperties runs the write-path PropertyParser check spec.md
// §4.4/§7/scenario-4 describes: a create/update/commit operation's proposed
// access-prefixed property values (key -> new raw value, distinct from the
// table_properties_updates/_removal key-name sets the Evaluator's policy
// conditions see) must all parse cleanly, or the whole operation is
// rejected with PropertyParseError before any policy evaluation runs.
// Callers (the Authorizer, on behalf of create/update/commit actions) call
// this ahead of BuildScope/Evaluate; a non-nil error here must surface to
// the caller as the write path's one user-visible 400, not a forced deny.
func (rb *RequestBuilder) ValidateWriteProperties(raw map[string]string, currentProjectID string) error {
	_, err := rb.PropertyParser.ParseAll(raw, propertyparser.Write, currentProjectID)
	return err
}

func contextValueToTypedValue(v interface{}) (types.TypedValue, error) {
	switch val := v.(type) {
	case string:
		return types.StringValue(val), nil
	case bool:
		return types.BoolValue(val), nil
	case int64:
		return types.LongValue(val), nil
	case int:
		return types.LongValue(int64(val)), nil
	case []string:
		set := make([]types.TypedValue, len(val))
		for i, s := range val {
			set[i] = types.StringValue(s)
		}
		return types.SetValue(set), nil
	default:
		return types.TypedValue{}, fmt.Errorf("unsupported context value type %T", v)
	}
}
