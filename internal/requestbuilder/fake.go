package requestbuilder

import (
	"context"
	"fmt"

	"github.com/authz-engine/go-core/pkg/types"
)

// FakeCatalog is an in-memory CatalogResolver for tests and for running the
// engine against a fixture catalog instead of a live one.
type FakeCatalog struct {
	Entities map[types.EntityUid]CatalogEntity
	Roles    map[types.EntityUid][]types.EntityUid
}

func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		Entities: make(map[types.EntityUid]CatalogEntity),
		Roles:    make(map[types.EntityUid][]types.EntityUid),
	}
}

func (f *FakeCatalog) Put(uid types.EntityUid, e CatalogEntity) *FakeCatalog {
	f.Entities[uid] = e
	return f
}

func (f *FakeCatalog) PutRoles(principal types.EntityUid, roles ...types.EntityUid) *FakeCatalog {
	f.Roles[principal] = roles
	return f
}

func (f *FakeCatalog) Resource(_ context.Context, uid types.EntityUid) (CatalogEntity, error) {
	e, ok := f.Entities[uid]
	if !ok {
		return CatalogEntity{}, fmt.Errorf("fake catalog: no such resource %s", uid)
	}
	return e, nil
}

func (f *FakeCatalog) PrincipalRoles(_ context.Context, principal types.EntityUid) ([]types.EntityUid, error) {
	return f.Roles[principal], nil
}
