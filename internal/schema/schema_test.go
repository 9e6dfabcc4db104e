package schema

import (
	"testing"

	"github.com/authz-engine/go-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_ValidParentEdges(t *testing.T) {
	s := Builtin()
	require.NoError(t, s.ValidateParentEdge(types.KindTable, types.KindNamespace))
	require.NoError(t, s.ValidateParentEdge(types.KindNamespace, types.KindNamespace))
	require.NoError(t, s.ValidateParentEdge(types.KindNamespace, types.KindWarehouse))
	require.Error(t, s.ValidateParentEdge(types.KindTable, types.KindWarehouse))
}

func TestExpandActionGroup_Transitive(t *testing.T) {
	s := Builtin()
	members, err := s.ExpandActionGroup("TableSelectActions")
	require.NoError(t, err)
	assert.True(t, members["ReadTableData"])
	assert.True(t, members["ReadTableMetadata"])
}

func TestExpandActionGroup_ConcreteActionNamesItself(t *testing.T) {
	s := Builtin()
	members, err := s.ExpandActionGroup("CommitTable")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"CommitTable": true}, members)
}

func TestExpandActionGroup_DetectsCycle(t *testing.T) {
	s := Builtin()
	s.Groups["CycleA"] = []string{"CycleB"}
	s.Groups["CycleB"] = []string{"CycleA"}

	_, err := s.ExpandActionGroup("CycleA")
	require.Error(t, err)
}

func TestLoad_RejectsConflictingAttrType(t *testing.T) {
	_, err := Load(map[types.EntityKind]*KindDef{
		types.KindTable: {Attrs: map[string]types.FieldType{"name": {Primitive: "long"}}},
	}, nil, nil)
	require.Error(t, err)
}

func TestLoad_RejectsCyclicCustomGroup(t *testing.T) {
	_, err := Load(nil, nil, map[string][]string{
		"GroupA": {"GroupB"},
		"GroupB": {"GroupA"},
	})
	require.Error(t, err)
}

func TestValidateEntity_UserRequiresAttrs(t *testing.T) {
	s := Builtin()
	u := types.NewEntity(types.NewEntityUid(types.KindUser, "oidc~alice"))
	err := s.ValidateEntity(u)
	require.Error(t, err)

	u.Attrs["provider_id"] = types.StringValue("oidc")
	u.Attrs["source_id"] = types.StringValue("alice")
	u.Attrs["roles"] = types.SetValue(nil)
	u.Attrs["project_roles"] = types.SetValue(nil)
	require.NoError(t, s.ValidateEntity(u))
}

func TestValidateEntity_RejectsTagsOnNonTagBearingKind(t *testing.T) {
	s := Builtin()
	wh := types.NewEntity(types.NewEntityUid(types.KindWarehouse, "wh-1"))
	wh.Tags["access-readers"] = types.StringValue(`["role:r1"]`)
	require.Error(t, s.ValidateEntity(wh))
}
