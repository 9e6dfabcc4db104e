package requestbuilder

import (
	"context"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/authz-engine/go-core/internal/entitystore"
	"github.com/authz-engine/go-core/internal/loader"
	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
	"github.com/stretchr/testify/require"
)

func emptySnapshot(t *testing.T) *loader.Snapshot {
	t.Helper()
	store, err := entitystore.Build(schema.Builtin(), nil)
	require.NoError(t, err)
	return &loader.Snapshot{Schema: schema.Builtin(), Policies: &types.PolicySet{}, Entities: store}
}

func fixtureCatalog() *FakeCatalog {
	server := types.NewEntityUid(types.KindServer, "srv")
	project := types.NewEntityUid(types.KindProject, "p1")
	warehouse := types.NewEntityUid(types.KindWarehouse, "wh-1")
	namespace := types.NewEntityUid(types.KindNamespace, "ns1")
	table := types.NewEntityUid(types.KindTable, "wh-1/t1")

	fc := NewFakeCatalog()
	fc.Put(server, CatalogEntity{Attrs: map[string]types.TypedValue{"name": types.StringValue("main")}})
	fc.Put(project, CatalogEntity{
		Attrs:     map[string]types.TypedValue{"name": types.StringValue("proj"), "server": types.UidValue(server)},
		Parent:    server, HasParent: true,
	})
	fc.Put(warehouse, CatalogEntity{
		Attrs:     map[string]types.TypedValue{"name": types.StringValue("wh-1"), "project": types.UidValue(project)},
		Parent:    project, HasParent: true,
	})
	fc.Put(namespace, CatalogEntity{
		Attrs:     map[string]types.TypedValue{"name": types.StringValue("ns1"), "warehouse": types.UidValue(warehouse)},
		Parent:    warehouse, HasParent: true,
	})
	fc.Put(table, CatalogEntity{
		Attrs:      map[string]types.TypedValue{"name": types.StringValue("t1"), "namespace": types.UidValue(namespace), "warehouse": types.UidValue(warehouse)},
		Parent:     namespace, HasParent: true,
		Properties: map[string]string{"access-readers": `["user:oidc~bob"]`},
	})
	return fc
}

func testBuilder(externallyManaged bool, claim string) *RequestBuilder {
	return New(schema.Builtin(), propertyparser.New([]string{"access-", "access_"}, nil, nil), externallyManaged, claim)
}

func TestBuildScope_AssemblesResourceChainAndUser(t *testing.T) {
	fc := fixtureCatalog()
	fc.PutRoles(types.NewEntityUid(types.KindUser, "oidc~alice"), types.NewEntityUid(types.KindRole, "p1/oidc~warehouse-1-admins"))

	rb := testBuilder(false, "")
	identity := Identity{ProviderID: "oidc", Subject: "alice"}
	table := types.NewEntityUid(types.KindTable, "wh-1/t1")

	store, principal, _, err := rb.BuildScope(context.Background(), emptySnapshot(t), identity, "ReadTableData", table, nil, fc)
	require.NoError(t, err)
	require.Equal(t, types.NewEntityUid(types.KindUser, "oidc~alice"), principal)

	tableEntity, ok := store.Get(table)
	require.True(t, ok)
	require.Contains(t, tableEntity.Tags, "access-readers")
	users := tableEntity.Tags["access-readers"].Record["users"].Set
	require.Len(t, users, 1)
	require.Equal(t, types.NewEntityUid(types.KindUser, "oidc~bob"), users[0].Uid)

	roleEntity, ok := store.Get(types.NewEntityUid(types.KindRole, "p1/oidc~warehouse-1-admins"))
	require.True(t, ok)
	require.Equal(t, "oidc", roleEntity.Attrs["provider_id"].Str)
}

func TestBuildScope_ProjectRolesFromClaim(t *testing.T) {
	fc := fixtureCatalog()
	rb := testBuilder(false, "https://example/roles")
	identity := Identity{
		ProviderID: "oidc", Subject: "alice",
		Claims: jwt.MapClaims{"https://example/roles": []interface{}{"oidc~warehouse-1-admins"}},
	}
	table := types.NewEntityUid(types.KindTable, "wh-1/t1")

	store, principal, _, err := rb.BuildScope(context.Background(), emptySnapshot(t), identity, "ReadTableData", table, nil, fc)
	require.NoError(t, err)

	user, ok := store.Get(principal)
	require.True(t, ok)
	projectRoles := user.Attrs["project_roles"].Set
	require.Len(t, projectRoles, 1)
	require.Equal(t, "oidc", projectRoles[0].Record["provider_id"].Str)
}

func TestBuildScope_ExternallyManagedRequiresPresentUser(t *testing.T) {
	rb := testBuilder(true, "")
	fc := fixtureCatalog()
	table := types.NewEntityUid(types.KindTable, "wh-1/t1")

	_, _, _, err := rb.BuildScope(context.Background(), emptySnapshot(t), Identity{ProviderID: "oidc", Subject: "alice"}, "ReadTableData", table, nil, fc)
	require.Error(t, err)
}

func TestBuildContext_TableWriteKeySets(t *testing.T) {
	rb := testBuilder(false, "")
	fields, err := rb.buildContext("CommitTable", map[string]interface{}{
		"table_properties_removal": []string{"access-owners"},
	}, "p1")
	require.NoError(t, err)
	require.Len(t, fields["table_properties_removal"].Set, 1)
	require.Equal(t, "access-owners", fields["table_properties_removal"].Set[0].Str)
}

func TestValidateWriteProperties_RejectsMalformedValue(t *testing.T) {
	rb := testBuilder(false, "")
	err := rb.ValidateWriteProperties(map[string]string{"access-owners": "not-json"}, "p1")
	require.Error(t, err)
}
