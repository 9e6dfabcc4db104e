package entitystore

import (
	"testing"

	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableHierarchy() []*types.Entity {
	server := types.NewEntity(types.NewEntityUid(types.KindServer, "srv1"))
	project := types.NewEntity(types.NewEntityUid(types.KindProject, "proj1"))
	project.Parents = []types.EntityUid{server.Uid}
	wh := types.NewEntity(types.NewEntityUid(types.KindWarehouse, "wh1"))
	wh.Parents = []types.EntityUid{project.Uid}
	ns := types.NewEntity(types.NewEntityUid(types.KindNamespace, "ns1"))
	ns.Parents = []types.EntityUid{wh.Uid}
	table := types.NewEntity(types.NewEntityUid(types.KindTable, "t1"))
	table.Parents = []types.EntityUid{ns.Uid}
	return []*types.Entity{server, project, wh, ns, table}
}

func TestBuild_AncestorClosureIsTransitiveAndReflexive(t *testing.T) {
	store, err := Build(schema.Builtin(), tableHierarchy())
	require.NoError(t, err)

	table := types.NewEntityUid(types.KindTable, "t1")
	wh := types.NewEntityUid(types.KindWarehouse, "wh1")
	srv := types.NewEntityUid(types.KindServer, "srv1")

	assert.True(t, store.Membership(table, table))
	assert.True(t, store.Membership(table, wh))
	assert.True(t, store.Membership(table, srv))
	assert.False(t, store.Membership(wh, table))
}

func TestBuild_RejectsMissingParentTarget(t *testing.T) {
	orphan := types.NewEntity(types.NewEntityUid(types.KindTable, "t1"))
	orphan.Parents = []types.EntityUid{types.NewEntityUid(types.KindNamespace, "missing")}
	_, err := Build(schema.Builtin(), []*types.Entity{orphan})
	require.Error(t, err)
}

func TestBuild_RejectsDuplicateUid(t *testing.T) {
	e1 := types.NewEntity(types.NewEntityUid(types.KindServer, "srv1"))
	e2 := types.NewEntity(types.NewEntityUid(types.KindServer, "srv1"))
	_, err := Build(schema.Builtin(), []*types.Entity{e1, e2})
	require.Error(t, err)
}

func TestBuild_RejectsCycle(t *testing.T) {
	a := types.NewEntity(types.NewEntityUid(types.KindNamespace, "a"))
	b := types.NewEntity(types.NewEntityUid(types.KindNamespace, "b"))
	a.Parents = []types.EntityUid{b.Uid}
	b.Parents = []types.EntityUid{a.Uid}
	_, err := Build(schema.Builtin(), []*types.Entity{a, b})
	require.Error(t, err)
}

func TestBuild_RejectsDisallowedParentKind(t *testing.T) {
	wh := types.NewEntity(types.NewEntityUid(types.KindWarehouse, "wh1"))
	table := types.NewEntity(types.NewEntityUid(types.KindTable, "t1"))
	table.Parents = []types.EntityUid{wh.Uid} // Table must parent to Namespace, not Warehouse
	_, err := Build(schema.Builtin(), []*types.Entity{wh, table})
	require.Error(t, err)
}
