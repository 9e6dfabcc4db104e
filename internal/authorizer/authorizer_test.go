package authorizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/internal/config"
	"github.com/authz-engine/go-core/internal/requestbuilder"
	"github.com/authz-engine/go-core/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fixtureCatalog() *requestbuilder.FakeCatalog {
	server := types.NewEntityUid(types.KindServer, "srv")
	project := types.NewEntityUid(types.KindProject, "p1")
	warehouse := types.NewEntityUid(types.KindWarehouse, "wh-1")
	namespace := types.NewEntityUid(types.KindNamespace, "ns1")
	table := types.NewEntityUid(types.KindTable, "wh-1/t1")

	fc := requestbuilder.NewFakeCatalog()
	fc.Put(server, requestbuilder.CatalogEntity{Attrs: map[string]types.TypedValue{"name": types.StringValue("main")}})
	fc.Put(project, requestbuilder.CatalogEntity{
		Attrs: map[string]types.TypedValue{"name": types.StringValue("proj"), "server": types.UidValue(server)},
		Parent: server, HasParent: true,
	})
	fc.Put(warehouse, requestbuilder.CatalogEntity{
		Attrs: map[string]types.TypedValue{"name": types.StringValue("wh-1"), "project": types.UidValue(project)},
		Parent: project, HasParent: true,
	})
	fc.Put(namespace, requestbuilder.CatalogEntity{
		Attrs: map[string]types.TypedValue{"name": types.StringValue("ns1"), "warehouse": types.UidValue(warehouse)},
		Parent: warehouse, HasParent: true,
	})
	fc.Put(table, requestbuilder.CatalogEntity{
		Attrs: map[string]types.TypedValue{"name": types.StringValue("t1"), "namespace": types.UidValue(namespace), "warehouse": types.UidValue(warehouse)},
		Parent: namespace, HasParent: true,
	})
	return fc
}

func testAuthorizer(t *testing.T, policy string) *Authorizer {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", policy)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.DecisionCache.Enabled = true
	cfg.DecisionCache.Capacity = 100
	cfg.DecisionCache.TTLSecs = 60

	a, err := New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	return a
}

func TestCheck_AllowsWhenPolicyMatches(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action == "ReadTableData", resource);`)
	fc := fixtureCatalog()

	decision, err := a.Check(context.Background(), CheckRequest{
		Identity: requestbuilder.Identity{ProviderID: "oidc", Subject: "alice"},
		Action:   "ReadTableData",
		Resource: types.NewEntityUid(types.KindTable, "wh-1/t1"),
		Resolver: fc,
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Contains(t, decision.DeterminingPolicies, "p1")
}

func TestCheck_DefaultDenyWithoutMatchingPolicy(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action == "ReadTableMetadata", resource);`)
	fc := fixtureCatalog()

	decision, err := a.Check(context.Background(), CheckRequest{
		Identity: requestbuilder.Identity{ProviderID: "oidc", Subject: "alice"},
		Action:   "ReadTableData",
		Resource: types.NewEntityUid(types.KindTable, "wh-1/t1"),
		Resolver: fc,
	})
	require.NoError(t, err)
	require.False(t, decision.Allow)
}

func TestCheck_CachesRepeatDecisions(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action == "ReadTableData", resource);`)
	fc := fixtureCatalog()

	req := CheckRequest{
		Identity: requestbuilder.Identity{ProviderID: "oidc", Subject: "alice"},
		Action:   "ReadTableData",
		Resource: types.NewEntityUid(types.KindTable, "wh-1/t1"),
		Resolver: fc,
	}

	_, err := a.Check(context.Background(), req)
	require.NoError(t, err)
	statsBefore := a.decisionCache.Stats()

	decision, err := a.Check(context.Background(), req)
	require.NoError(t, err)
	require.True(t, decision.Allow)
	statsAfter := a.decisionCache.Stats()
	require.Greater(t, statsAfter.Hits, statsBefore.Hits)
}

func TestCheck_RejectsMalformedWriteProperty(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action, resource);`)
	fc := fixtureCatalog()

	_, err := a.Check(context.Background(), CheckRequest{
		Identity:          requestbuilder.Identity{ProviderID: "oidc", Subject: "alice"},
		Action:            "CommitTable",
		Resource:          types.NewEntityUid(types.KindTable, "wh-1/t1"),
		Resolver:          fc,
		WriteProperties:   map[string]string{"access-owners": "not-json"},
		CurrentProjectID:  "p1",
	})
	require.Error(t, err)
}

func TestHealth_ReflectsReloaderState(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action, resource);`)
	healthy, reason := a.Health()
	require.True(t, healthy)
	require.Empty(t, reason)
}

func TestIntrospect_ListsAllowedActions(t *testing.T) {
	a := testAuthorizer(t, `@id("p1") permit (principal, action in TableSelectActions, resource);`)
	fc := fixtureCatalog()

	allowed, err := a.Introspect(context.Background(), requestbuilder.Identity{ProviderID: "oidc", Subject: "alice"}, types.NewEntityUid(types.KindTable, "wh-1/t1"), fc)
	require.NoError(t, err)
	require.Contains(t, allowed, "ReadTableData")
	require.Contains(t, allowed, "ReadTableMetadata")
	require.NotContains(t, allowed, "DropTable")
}
