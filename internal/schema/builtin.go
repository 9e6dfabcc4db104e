package schema

import "github.com/authz-engine/go-core/pkg/types"

// Builtin returns the schema shipped with the engine: the catalog's fixed
// entity kinds and a representative action catalog covering the lifecycle
// of each resource kind. Deployments merge customizations onto this via
// Load.
func Builtin() *Schema {
	uid := func(kind types.EntityKind) types.FieldType {
		return types.FieldType{Primitive: "entity-uid", OfKind: kind}
	}
	set := func(elem types.FieldType) types.FieldType {
		return types.FieldType{Primitive: "set", Elem: &elem}
	}
	str := types.FieldType{Primitive: "string"}
	boolean := types.FieldType{Primitive: "bool"}

	kinds := map[types.EntityKind]*KindDef{
		types.KindServer: {Attrs: map[string]types.FieldType{
			"name": str,
		}},
		types.KindProject: {Attrs: map[string]types.FieldType{
			"name":   str,
			"server": uid(types.KindServer),
		}},
		types.KindWarehouse: {Attrs: map[string]types.FieldType{
			"name":    str,
			"project": uid(types.KindProject),
			"active":  boolean,
		}},
		types.KindNamespace: {Attrs: map[string]types.FieldType{
			"name":      str,
			"warehouse": uid(types.KindWarehouse),
			"protected": boolean,
		}},
		types.KindTable: {Attrs: map[string]types.FieldType{
			"name":      str,
			"namespace": uid(types.KindNamespace),
			"warehouse": uid(types.KindWarehouse),
			"protected": boolean,
		}, HasTags: true},
		types.KindView: {Attrs: map[string]types.FieldType{
			"name":      str,
			"namespace": uid(types.KindNamespace),
			"warehouse": uid(types.KindWarehouse),
			"protected": boolean,
		}, HasTags: true},
		types.KindUser: {Attrs: map[string]types.FieldType{
			"provider_id":   str,
			"source_id":     str,
			"roles":         set(uid(types.KindRole)),
			"project_roles": set(types.FieldType{Primitive: "record", Fields: map[string]types.FieldType{"provider_id": str, "source_id": str}}),
		}},
		types.KindRole: {Attrs: map[string]types.FieldType{
			"provider_id": str,
			"source_id":   str,
			"project":     uid(types.KindProject),
		}},
	}

	actions := map[string]*types.Action{
		"CreateProject": {Name: "CreateProject", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindServer}},
		"ReadProject":   {Name: "ReadProject", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindProject}, MemberOf: []string{"ProjectReadActions"}},
		"UpdateProject": {Name: "UpdateProject", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindProject}, MemberOf: []string{"ProjectWriteActions"}},
		"DeleteProject": {Name: "DeleteProject", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindProject}, MemberOf: []string{"ProjectWriteActions"}},

		"CreateWarehouse": {Name: "CreateWarehouse", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindProject}, MemberOf: []string{"WarehouseWriteActions"}},
		"ReadWarehouse":    {Name: "ReadWarehouse", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindWarehouse}, MemberOf: []string{"WarehouseReadActions"}},
		"UpdateWarehouse":  {Name: "UpdateWarehouse", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindWarehouse}, MemberOf: []string{"WarehouseWriteActions"}},
		"DeleteWarehouse":  {Name: "DeleteWarehouse", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindWarehouse}, MemberOf: []string{"WarehouseWriteActions"}},

		"CreateNamespace": {Name: "CreateNamespace", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindWarehouse, types.KindNamespace}, MemberOf: []string{"NamespaceWriteActions"}},
		"ReadNamespace":    {Name: "ReadNamespace", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindNamespace}, MemberOf: []string{"NamespaceReadActions"}},
		"UpdateNamespace":  {Name: "UpdateNamespace", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindNamespace}, MemberOf: []string{"NamespaceWriteActions"}},
		"DropNamespace":    {Name: "DropNamespace", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindNamespace}, MemberOf: []string{"NamespaceWriteActions"}},

		"CreateTable": {Name: "CreateTable", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindNamespace},
			ContextFields: map[string]types.FieldType{
				"table_properties_updates": set(str),
				"table_properties_removal": set(str),
			}, MemberOf: []string{"TableWriteActions"}},
		"ReadTableData": {Name: "ReadTableData", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindTable}, MemberOf: []string{"TableSelectActions"}},
		"ReadTableMetadata": {Name: "ReadTableMetadata", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindTable}, MemberOf: []string{"TableSelectActions"}},
		"CommitTable": {Name: "CommitTable", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindTable},
			ContextFields: map[string]types.FieldType{
				"table_properties_updates": set(str),
				"table_properties_removal": set(str),
			}, MemberOf: []string{"TableWriteActions"}},
		"RenameTable": {Name: "RenameTable", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindTable}, MemberOf: []string{"TableWriteActions"}},
		"DropTable":   {Name: "DropTable", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindTable}, MemberOf: []string{"TableWriteActions"}},

		"CreateView": {Name: "CreateView", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindNamespace}, MemberOf: []string{"ViewWriteActions"}},
		"ReadView":   {Name: "ReadView", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindView}, MemberOf: []string{"ViewSelectActions"}},
		"CommitView": {Name: "CommitView", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindView}, MemberOf: []string{"ViewWriteActions"}},
		"DropView":   {Name: "DropView", PrincipalKinds: []types.EntityKind{types.KindUser}, ResourceKinds: []types.EntityKind{types.KindView}, MemberOf: []string{"ViewWriteActions"}},
	}

	groups := map[string][]string{
		"ProjectReadActions":    {"ReadProject"},
		"ProjectWriteActions":   {"UpdateProject", "DeleteProject"},
		"WarehouseReadActions":  {"ReadWarehouse"},
		"WarehouseWriteActions": {"CreateWarehouse", "UpdateWarehouse", "DeleteWarehouse"},
		"NamespaceReadActions":  {"ReadNamespace"},
		"NamespaceWriteActions": {"CreateNamespace", "UpdateNamespace", "DropNamespace"},
		"TableSelectActions":    {"ReadTableData", "ReadTableMetadata"},
		"TableWriteActions":     {"CreateTable", "CommitTable", "RenameTable", "DropTable"},
		"ViewSelectActions":     {"ReadView"},
		"ViewWriteActions":      {"CreateView", "CommitView", "DropView"},
	}

	return &Schema{Kinds: kinds, Actions: actions, Groups: groups}
}
