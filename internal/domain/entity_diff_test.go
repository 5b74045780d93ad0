package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func sampleVersion(versionID uuid.UUID) EntityVersion {
	roleA := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	roleB := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")

	return EntityVersion{
		ID:                versionID,
		Name:              "Order",
		DisplayName:       "Order",
		PluralDisplayName: "Orders",
		Fields: []EntityField{
			{
				ID:              uuid.New(),
				PermanentID:     "01B",
				EntityVersionID: versionID,
				Name:            "status",
				DisplayName:     "Status",
				DataType:        DataTypeOptionSet,
				Properties: map[string]any{
					"options": []map[string]any{{"label": "Option 1", "value": "Option1"}},
				},
			},
			{
				ID:              uuid.New(),
				PermanentID:     "01A",
				EntityVersionID: versionID,
				Name:            "title",
				DisplayName:     "Title",
				DataType:        DataTypeSingleLineText,
				Properties:      map[string]any{"maxLength": 256},
				Searchable:      true,
			},
		},
		Permissions: []EntityPermission{
			{
				ID:     uuid.New(),
				Action: EntityActionView,
				Type:   EntityPermissionTypeGranular,
				PermissionRoles: []EntityPermissionRole{
					{ID: uuid.New(), AppRoleID: roleB},
					{ID: uuid.New(), AppRoleID: roleA},
				},
				PermissionFields: []EntityPermissionField{
					{ID: uuid.New(), FieldPermanentID: "01A", PermissionRoles: []EntityPermissionRole{{ID: uuid.New(), AppRoleID: roleA}}},
				},
			},
			{ID: uuid.New(), Action: EntityActionCreate, Type: EntityPermissionTypeAllRoles},
		},
	}
}

func TestVersionSnapshotCanonicalText(t *testing.T) {
	version := sampleVersion(uuid.New())

	lines, err := NewVersionSnapshot(version).CanonicalText()
	if err != nil {
		t.Fatalf("unexpected error generating canonical text: %v", err)
	}

	expected := []string{
		"Name: Order",
		"DisplayName: Order",
		"PluralDisplayName: Orders",
		"Description: ",
		"Deleted: false",
		"Fields:",
		"  01A.name: title",
		"  01A.displayName: Title",
		"  01A.dataType: SingleLineText",
		"  01A.required: false",
		"  01A.unique: false",
		"  01A.searchable: true",
		"  01A.description: ",
		"  01A.properties.maxLength: 256",
		"  01B.name: status",
		"  01B.displayName: Status",
		"  01B.dataType: OptionSet",
		"  01B.required: false",
		"  01B.unique: false",
		"  01B.searchable: false",
		"  01B.description: ",
		"  01B.properties.options[0].label: \"Option 1\"",
		"  01B.properties.options[0].value: \"Option1\"",
		"Permissions:",
		"  Create.type: AllRoles",
		"  Create.roles: []",
		"  View.type: Granular",
		"  View.roles: [aaaaaaaa-0000-0000-0000-000000000001, aaaaaaaa-0000-0000-0000-000000000002]",
		"  View.fields.01A.roles: [aaaaaaaa-0000-0000-0000-000000000001]",
	}

	if len(lines) != len(expected) {
		t.Fatalf("expected %d canonical lines, got %d\n%v", len(expected), len(lines), strings.Join(lines, "\n"))
	}

	for idx, line := range expected {
		if lines[idx] != line {
			t.Errorf("line %d mismatch: expected %q got %q", idx, line, lines[idx])
		}
	}
}

func TestAreDifferentIgnoresStorageIdentity(t *testing.T) {
	draft := sampleVersion(uuid.New())
	committed := sampleVersion(uuid.New())
	committed.VersionNumber = 3

	// Same content, reversed order and JSON-decoded property values.
	committed.Fields[0], committed.Fields[1] = committed.Fields[1], committed.Fields[0]
	committed.Fields[0].Properties = map[string]any{"maxLength": float64(256)}
	committed.Permissions[0], committed.Permissions[1] = committed.Permissions[1], committed.Permissions[0]

	if AreDifferent(&draft, &committed) {
		t.Fatalf("expected versions with equal content to compare equal")
	}
}

func TestAreDifferentDetectsChanges(t *testing.T) {
	base := sampleVersion(uuid.New())

	cases := map[string]func(v *EntityVersion){
		"display name": func(v *EntityVersion) { v.DisplayName = "Purchase" },
		"deleted":      func(v *EntityVersion) { v.Deleted = true },
		"field flag":   func(v *EntityVersion) { v.Fields[0].Required = true },
		"field props":  func(v *EntityVersion) { v.Fields[1].Properties["maxLength"] = 100 },
		"field added": func(v *EntityVersion) {
			v.Fields = append(v.Fields, EntityField{PermanentID: "01C", Name: "note", DataType: DataTypeMultiLineText})
		},
		"permission type": func(v *EntityVersion) { v.Permissions[1].Type = EntityPermissionTypeDisabled },
		"permission role": func(v *EntityVersion) { v.Permissions[0].PermissionRoles = v.Permissions[0].PermissionRoles[:1] },
		"field binding":   func(v *EntityVersion) { v.Permissions[0].PermissionFields = nil },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			changed := sampleVersion(uuid.New())
			mutate(&changed)
			if !AreDifferent(&changed, &base) {
				t.Fatalf("expected change in %s to be detected", name)
			}
		})
	}

	if !AreDifferent(&base, nil) {
		t.Fatalf("expected nil target to always be different")
	}
}

func TestDiffEntityVersions(t *testing.T) {
	base := sampleVersion(uuid.New())
	target := sampleVersion(uuid.New())
	target.Fields[1].Properties = map[string]any{"maxLength": 100}
	target.Description = "customer orders"

	diff, err := DiffEntityVersions("v1", &base, "draft", &target)
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}

	if !strings.HasPrefix(diff, "--- v1\n+++ draft\n") {
		t.Errorf("diff missing labels: %s", diff)
	}

	if !strings.Contains(diff, "-  01A.properties.maxLength: 256") {
		t.Errorf("diff missing base property: %s", diff)
	}

	if !strings.Contains(diff, "+  01A.properties.maxLength: 100") {
		t.Errorf("diff missing target property: %s", diff)
	}

	if !strings.Contains(diff, "+Description: customer orders") {
		t.Errorf("diff missing description change: %s", diff)
	}
}
