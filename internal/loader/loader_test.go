package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/authz-engine/go-core/internal/config"
	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLoader(t *testing.T) *Loader {
	t.Helper()
	return New(schema.Builtin(), propertyparser.New([]string{"access-", "access_"}, nil, nil), nil, nil)
}

func TestLoad_MergesPoliciesAndEntities(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "p1.cedar", `@id("p1") permit (principal, action, resource);`)
	entityPath := writeFile(t, dir, "e1.json", `[
		{"uid": {"type": "Server", "id": "srv"}, "attrs": {"name": "main"}},
		{"uid": {"type": "Project", "id": "p1"}, "attrs": {"name": "proj", "server": {"__entity": {"type": "Server", "id": "srv"}}}, "parents": [{"type": "Server", "id": "srv"}]}
	]`)

	cfg := &config.Config{
		PolicySources:     config.PolicySources{LocalFiles: []string{policyPath}},
		EntityJSONSources: config.EntitySources{LocalFiles: []string{entityPath}},
	}

	snap, err := testLoader(t).Load(cfg)
	require.NoError(t, err)
	require.Len(t, snap.Policies.Policies, 1)
	require.NotEmpty(t, snap.Version)

	_, ok := snap.Entities.Get(types.NewEntityUid(types.KindProject, "p1"))
	require.True(t, ok)
}

func TestLoad_RejectsDuplicatePolicyID(t *testing.T) {
	dir := t.TempDir()
	p1 := writeFile(t, dir, "a.cedar", `@id("dup") permit (principal, action, resource);`)
	p2 := writeFile(t, dir, "b.cedar", `@id("dup") forbid (principal, action, resource);`)

	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{p1, p2}}}
	_, err := testLoader(t).Load(cfg)
	require.Error(t, err)
}

func TestLoad_RejectsDuplicateEntityUid(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "p.cedar", `permit (principal, action, resource);`)
	e1 := writeFile(t, dir, "e1.json", `[{"uid": {"type": "Server", "id": "srv"}, "attrs": {"name": "a"}}]`)
	e2 := writeFile(t, dir, "e2.json", `[{"uid": {"type": "Server", "id": "srv"}, "attrs": {"name": "b"}}]`)

	cfg := &config.Config{
		PolicySources:     config.PolicySources{LocalFiles: []string{policyPath}},
		EntityJSONSources: config.EntitySources{LocalFiles: []string{e1, e2}},
	}
	_, err := testLoader(t).Load(cfg)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownAction(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "p.cedar", `permit (principal, action == "NotARealAction", resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{policyPath}}}
	_, err := testLoader(t).Load(cfg)
	require.Error(t, err)
}

func TestLoad_DirectorySourceGlobsByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.cedar", `@id("a") permit (principal, action, resource);`)
	writeFile(t, dir, "b.cedar", `@id("b") permit (principal, action, resource);`)
	writeFile(t, dir, "ignored.txt", `not a policy`)

	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}}
	snap, err := testLoader(t).Load(cfg)
	require.NoError(t, err)
	require.Len(t, snap.Policies.Policies, 2)
}

type fakeConfigMapSource struct {
	name    string
	version string
	data    map[string]string
}

func (f *fakeConfigMapSource) Name() string             { return f.name }
func (f *fakeConfigMapSource) ResourceVersion() string  { return f.version }
func (f *fakeConfigMapSource) Data() map[string]string  { return f.data }

func TestVersions_ChangesWithConfigMapResourceVersion(t *testing.T) {
	cm := &fakeConfigMapSource{name: "policies", version: "1", data: map[string]string{"p.cedar": `permit (principal, action, resource);`}}
	l := New(schema.Builtin(), propertyparser.New(nil, nil, nil), map[string]ConfigMapSource{"policies": cm}, nil)
	cfg := &config.Config{PolicySources: config.PolicySources{ConfigMap: "policies"}}

	v1, err := l.Versions(cfg)
	require.NoError(t, err)

	cm.version = "2"
	v2, err := l.Versions(cfg)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)
}

func TestLoad_ReadsFromConfigMap(t *testing.T) {
	cm := &fakeConfigMapSource{name: "policies", version: "1", data: map[string]string{"p.cedar": `@id("cm1") permit (principal, action, resource);`}}
	l := New(schema.Builtin(), propertyparser.New(nil, nil, nil), map[string]ConfigMapSource{"policies": cm}, nil)
	cfg := &config.Config{PolicySources: config.PolicySources{ConfigMap: "policies"}}

	snap, err := l.Load(cfg)
	require.NoError(t, err)
	require.Len(t, snap.Policies.Policies, 1)
	require.Equal(t, "cm1", snap.Policies.Policies[0].ID)
}
