package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// AreDifferent reports whether two versions differ semantically. A nil target
// means there is nothing to compare against and is always different. Storage
// ids, version ids, timestamps and slice order are ignored; fields are
// correlated by permanent id.
func AreDifferent(source, target *EntityVersion) bool {
	if target == nil || source == nil {
		return true
	}

	sourceLines, err := NewVersionSnapshot(*source).CanonicalText()
	if err != nil {
		return true
	}
	targetLines, err := NewVersionSnapshot(*target).CanonicalText()
	if err != nil {
		return true
	}

	if len(sourceLines) != len(targetLines) {
		return true
	}
	for i := range sourceLines {
		if sourceLines[i] != targetLines[i] {
			return true
		}
	}
	return false
}

// VersionSnapshot is the comparable projection of an entity version.
type VersionSnapshot struct {
	Names       EntityNames
	Deleted     bool
	Fields      []EntityField
	Permissions []EntityPermission
}

// NewVersionSnapshot projects a hydrated version.
func NewVersionSnapshot(version EntityVersion) VersionSnapshot {
	return VersionSnapshot{
		Names:       version.Names(),
		Deleted:     version.Deleted,
		Fields:      version.Fields,
		Permissions: version.Permissions,
	}
}

// CanonicalText flattens the snapshot into a deterministic set of lines suitable for diffing.
func (s VersionSnapshot) CanonicalText() ([]string, error) {
	lines := []string{
		fmt.Sprintf("Name: %s", s.Names.Name),
		fmt.Sprintf("DisplayName: %s", s.Names.DisplayName),
		fmt.Sprintf("PluralDisplayName: %s", s.Names.PluralDisplayName),
		fmt.Sprintf("Description: %s", s.Names.Description),
		fmt.Sprintf("Deleted: %t", s.Deleted),
		"Fields:",
	}

	fields := append([]EntityField(nil), s.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].PermanentID < fields[j].PermanentID })

	if len(fields) == 0 {
		lines = append(lines, "  (empty)")
	}
	for _, field := range fields {
		prefix := "  " + field.PermanentID
		lines = append(lines,
			fmt.Sprintf("%s.name: %s", prefix, field.Name),
			fmt.Sprintf("%s.displayName: %s", prefix, field.DisplayName),
			fmt.Sprintf("%s.dataType: %s", prefix, field.DataType),
			fmt.Sprintf("%s.required: %t", prefix, field.Required),
			fmt.Sprintf("%s.unique: %t", prefix, field.Unique),
			fmt.Sprintf("%s.searchable: %t", prefix, field.Searchable),
			fmt.Sprintf("%s.description: %s", prefix, field.Description),
		)

		props, err := normalizeProperties(field.Properties)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.PermanentID, err)
		}
		flattened := map[string]string{}
		if err := flattenProperties("", props, flattened); err != nil {
			return nil, fmt.Errorf("field %s: %w", field.PermanentID, err)
		}
		for _, key := range sortedKeys(flattened) {
			lines = append(lines, fmt.Sprintf("%s.properties.%s: %s", prefix, key, flattened[key]))
		}
	}

	lines = append(lines, "Permissions:")
	permissions := append([]EntityPermission(nil), s.Permissions...)
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Action < permissions[j].Action })

	if len(permissions) == 0 {
		lines = append(lines, "  (empty)")
	}
	for _, permission := range permissions {
		prefix := "  " + string(permission.Action)
		lines = append(lines,
			fmt.Sprintf("%s.type: %s", prefix, permission.Type),
			fmt.Sprintf("%s.roles: [%s]", prefix, strings.Join(roleIDs(permission.PermissionRoles), ", ")),
		)

		permFields := append([]EntityPermissionField(nil), permission.PermissionFields...)
		sort.Slice(permFields, func(i, j int) bool { return permFields[i].FieldPermanentID < permFields[j].FieldPermanentID })
		for _, pf := range permFields {
			lines = append(lines, fmt.Sprintf("%s.fields.%s.roles: [%s]", prefix, pf.FieldPermanentID, strings.Join(roleIDs(pf.PermissionRoles), ", ")))
		}
	}

	return lines, nil
}

// DiffEntityVersions produces a unified diff between two versions using the provided labels.
func DiffEntityVersions(baseLabel string, base *EntityVersion, targetLabel string, target *EntityVersion) (string, error) {
	baseString, err := canonicalString(base)
	if err != nil {
		return "", err
	}

	targetString, err := canonicalString(target)
	if err != nil {
		return "", err
	}

	return buildUnifiedDiff(baseLabel, targetLabel, baseString, targetString), nil
}

func canonicalString(version *EntityVersion) (string, error) {
	if version == nil {
		return "", nil
	}

	lines, err := NewVersionSnapshot(*version).CanonicalText()
	if err != nil {
		return "", err
	}

	return strings.Join(lines, "\n") + "\n", nil
}

func roleIDs(roles []EntityPermissionRole) []string {
	ids := make([]string, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.AppRoleID.String())
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizeProperties round-trips through JSON so typed Go values and values
// decoded from storage compare equal.
func normalizeProperties(input map[string]any) (map[string]any, error) {
	if len(input) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenProperties(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			if err := flattenProperties(nextPrefix, typed[key], acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			nextPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				nextPrefix = fmt.Sprintf("[%d]", idx)
			}
			if err := flattenProperties(nextPrefix, item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("property key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}

	return nil
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel, baseContent, targetContent string) string {
	baseLines := splitLines(baseContent)
	targetLines := splitLines(targetContent)

	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines)))
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

func splitLines(input string) []string {
	lines := strings.Split(input, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffLines aligns two line sets on their longest common subsequence.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}

		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}

	for i < m {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
		i++
	}

	for j < n {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
		j++
	}

	return ops
}
