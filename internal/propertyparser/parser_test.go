package propertyparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAll_RoleShortForm(t *testing.T) {
	p := New([]string{"access-"}, []string{"oidc"}, nil)
	out, err := p.ParseAll(map[string]string{
		"access-readers": `["role:warehouse-1-admins"]`,
	}, Read, "proj-1")
	require.NoError(t, err)
	require.Len(t, out["access-readers"].Roles, 1)
	assert.Equal(t, "proj-1/oidc~warehouse-1-admins", out["access-readers"].Roles[0].ID)
}

func TestParseAll_RoleShortFormRequiresSingleProvider(t *testing.T) {
	p := New([]string{"access-"}, []string{"oidc", "ldap"}, nil)
	_, err := p.parseOneForTest(`["role:x"]`, "proj-1")
	require.Error(t, err)
}

func TestParseAll_RoleFullExplicitProject(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	out, err := p.ParseAll(map[string]string{
		"access-owners": `["role-full:proj-2/oidc~admins"]`,
	}, Write, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-2/oidc~admins", out["access-owners"].Roles[0].ID)
}

func TestParseAll_RoleFullImpliedCurrentProject(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	out, err := p.ParseAll(map[string]string{
		"access-owners": `["role-full:oidc~admins"]`,
	}, Write, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1/oidc~admins", out["access-owners"].Roles[0].ID)
}

func TestParseAll_UserForm(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	out, err := p.ParseAll(map[string]string{
		"access-owners": `["user:oidc~alice"]`,
	}, Read, "proj-1")
	require.NoError(t, err)
	require.Len(t, out["access-owners"].Users, 1)
	assert.Equal(t, "oidc~alice", out["access-owners"].Users[0].ID)
}

func TestParseAll_ReadPathSwallowsErrorAndExposesRaw(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	out, err := p.ParseAll(map[string]string{
		"access-readers": `not-json`,
	}, Read, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "not-json", out["access-readers"].Raw)
	assert.Empty(t, out["access-readers"].Roles)
	assert.Empty(t, out["access-readers"].Users)
}

func TestParseAll_WritePathRejectsMalformedValue(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	_, err := p.ParseAll(map[string]string{
		"access-owners": `not-json`,
	}, Write, "proj-1")
	require.Error(t, err)
}

func TestParseAll_NonPrefixedKeyPassesThroughVerbatim(t *testing.T) {
	p := New([]string{"access-"}, nil, nil)
	out, err := p.ParseAll(map[string]string{
		"comment": "hello world",
	}, Read, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out["comment"].Raw)
	assert.Empty(t, out["comment"].Roles)
}

// parseOneForTest exposes parseOne for the single test above that needs to
// check an entry-resolution error directly, without ParseAll's per-mode
// error handling.
func (p *Parser) parseOneForTest(raw, currentProjectID string) (interface{}, error) {
	return p.parseOne("access-x", raw, currentProjectID)
}
