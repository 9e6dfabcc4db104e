package requestbuilder

import (
	"context"

	"github.com/authz-engine/go-core/pkg/types"
)

// CatalogEntity is what the surrounding catalog service reports about one
// resource: its typed attrs (already shaped per Schema — the catalog owns
// its own column types), its parent (if any), and, for tag-bearing kinds,
// the raw access-prefixed property map PropertyParser consumes.
type CatalogEntity struct {
	Attrs      map[string]types.TypedValue
	Parent     types.EntityUid
	HasParent  bool
	Properties map[string]string
}

// CatalogResolver is the contract RequestBuilder uses to pull the live
// catalog state it needs to assemble a request's entity graph. The engine
// ships only this interface and an in-memory fake (see fake.go); a real
// implementation lives in the surrounding REST/Iceberg-protocol service,
// which is explicitly out of this module's scope.
type CatalogResolver interface {
	// Resource returns the catalog's view of uid: its attrs, parent edge,
	// and (for Table/Namespace/View) raw properties.
	Resource(ctx context.Context, uid types.EntityUid) (CatalogEntity, error)
	// PrincipalRoles returns the Role uids the catalog has directly
	// assigned to principal, independent of any token-sourced project_roles.
	PrincipalRoles(ctx context.Context, principal types.EntityUid) ([]types.EntityUid, error)
}
