package policylang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/pkg/types"
)

func TestParse_AnnotatedPermitWithWhen(t *testing.T) {
	src := `@id("wh1")
permit (
  principal is User,
  action in TableSelectActions,
  resource
) when {
  resource.warehouse.name == "wh-1" &&
  principal.project_roles.contains({provider_id:"oidc", source_id:"warehouse-1-admins"})
};`

	ps, err := Parse("policies/wh1.cedar", src)
	require.NoError(t, err)
	require.Len(t, ps.Policies, 1)

	p := ps.Policies[0]
	assert.Equal(t, "wh1", p.ID)
	assert.Equal(t, types.EffectPermit, p.Effect)
	assert.Equal(t, types.ScopeIs, p.Principal.Op)
	assert.Equal(t, types.KindUser, p.Principal.Kind)
	assert.Equal(t, types.ScopeIn, p.Action.Op)
	require.Len(t, p.Action.Uids, 0)
	assert.Equal(t, "TableSelectActions", p.Action.Uid.ID)
	assert.Equal(t, types.ScopeAny, p.Resource.Op)
	require.Len(t, p.When, 1)
	assert.Contains(t, p.When[0], `resource.warehouse.name == "wh-1"`)
	assert.Empty(t, p.Unless)
}

func TestParse_ForbidWithEqualityScopesAndUnless(t *testing.T) {
	src := `@id("deny-drop")
forbid (
  principal == User::"alice",
  action == "DropTable",
  resource == Table::"t1"
) unless {
  principal.roles.contains(Role::"oidc~superadmin")
};`

	ps, err := Parse("policies/deny.cedar", src)
	require.NoError(t, err)
	require.Len(t, ps.Policies, 1)
	p := ps.Policies[0]

	assert.Equal(t, types.EffectForbid, p.Effect)
	assert.Equal(t, types.ScopeEq, p.Principal.Op)
	assert.Equal(t, types.KindUser, p.Principal.Uid.Kind)
	assert.Equal(t, "alice", p.Principal.Uid.ID)
	assert.Equal(t, types.ScopeEq, p.Action.Op)
	assert.Equal(t, "DropTable", p.Action.Uid.ID)
	assert.Equal(t, types.ScopeEq, p.Resource.Op)
	assert.Equal(t, types.KindTable, p.Resource.Uid.Kind)
	require.Len(t, p.Unless, 1)
	assert.Empty(t, p.When)
}

func TestParse_ActionSetAndIsIn(t *testing.T) {
	src := `permit (
  principal is User in Project::"proj-1",
  action in ["ReadTableData", "ReadTableMetadata"],
  resource is Table
);`

	ps, err := Parse("policies/set.cedar", src)
	require.NoError(t, err)
	require.Len(t, ps.Policies, 1)
	p := ps.Policies[0]

	assert.Equal(t, types.ScopeIsIn, p.Principal.Op)
	assert.Equal(t, types.KindUser, p.Principal.Kind)
	assert.Equal(t, types.KindProject, p.Principal.Uid.Kind)
	assert.Equal(t, "proj-1", p.Principal.Uid.ID)

	require.Len(t, p.Action.Uids, 2)
	assert.Equal(t, "ReadTableData", p.Action.Uids[0].ID)
	assert.Equal(t, "ReadTableMetadata", p.Action.Uids[1].ID)

	assert.Equal(t, types.ScopeIs, p.Resource.Op)
	assert.Equal(t, types.KindTable, p.Resource.Kind)

	assert.NotEmpty(t, p.ID, "an unannotated policy should still get a synthesized id")
}

func TestParse_MultiplePoliciesInOneFile(t *testing.T) {
	src := `
permit (principal, action, resource);
forbid (principal, action, resource) when { false };
`
	ps, err := Parse("policies/multi.cedar", src)
	require.NoError(t, err)
	require.Len(t, ps.Policies, 2)
	assert.Equal(t, types.EffectPermit, ps.Policies[0].Effect)
	assert.Equal(t, types.EffectForbid, ps.Policies[1].Effect)
}

func TestParse_NestedBracesInWhenBodyAreCaptured(t *testing.T) {
	src := `permit (principal, action, resource) when {
  principal.project_roles.contains({provider_id: "oidc", source_id: "x"})
};`
	ps, err := Parse("policies/nested.cedar", src)
	require.NoError(t, err)
	require.Len(t, ps.Policies, 1)
	require.Len(t, ps.Policies[0].When, 1)
	assert.Contains(t, ps.Policies[0].When[0], `{provider_id: "oidc", source_id: "x"}`)
}

func TestParse_MissingSemicolonIsAnError(t *testing.T) {
	src := `permit (principal, action, resource)`
	_, err := Parse("policies/bad.cedar", src)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "policies/bad.cedar", perr.File)
}

func TestParse_UnknownEntityKindIsAnError(t *testing.T) {
	src := `permit (principal == Bogus::"x", action, resource);`
	_, err := Parse("policies/bad-kind.cedar", src)
	require.Error(t, err)
}

func TestParse_UnterminatedWhenBlockIsAnError(t *testing.T) {
	src := `permit (principal, action, resource) when { true`
	_, err := Parse("policies/unterminated.cedar", src)
	require.Error(t, err)
}
