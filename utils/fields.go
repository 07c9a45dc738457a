package utils

import (
	"sort"
	"strings"

	"leadpilot/models"
)

// Substring hints used to rescue an identity out of raw lead answers when
// the normalized name/phone fields are empty. Externally sourced leads often
// carry the real identity only inside the dynamic payload.
var (
	nameHints    = []string{"name", "customer"}
	phoneHints   = []string{"phone", "mobile", "contact", "tel"}
	companyHints = []string{"company", "organization", "business"}
)

// Exact keys tried before falling back to substring scanning. Order matters:
// the first non-empty value wins.
var (
	nameKeys    = []string{"full_name", "name", "customer_name"}
	phoneKeys   = []string{"phone_number", "phone", "mobile", "contact_number"}
	companyKeys = []string{"company_name", "company", "organization", "business_name"}
)

// lookupField returns the first non-empty value for an exact key, matching
// case-insensitively.
func lookupField(extra map[string]string, keys []string) string {
	for _, key := range keys {
		for k, v := range extra {
			if strings.EqualFold(k, key) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// scanFieldByHint returns the first value whose key contains one of the
// hints, scanning orderedKeys first and falling back to sorted map keys so
// the result is deterministic.
func scanFieldByHint(extra map[string]string, orderedKeys, hints []string) string {
	keys := orderedKeys
	if len(keys) == 0 {
		keys = make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	for _, hint := range hints {
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), hint) && strings.TrimSpace(extra[k]) != "" {
				return strings.TrimSpace(extra[k])
			}
		}
	}
	return ""
}

// PickName extracts a display name from raw lead answers, defaulting to the
// generic placeholder. orderedKeys fixes the scan order when the map came
// from an ordered source (form field order, import header order).
func PickName(extra map[string]string, orderedKeys []string) string {
	if v := lookupField(extra, nameKeys); v != "" {
		return v
	}
	first := lookupField(extra, []string{"first_name"})
	last := lookupField(extra, []string{"last_name"})
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	if v := scanFieldByHint(extra, orderedKeys, nameHints); v != "" {
		return v
	}
	return models.PlaceholderName
}

// PickPhone extracts a phone number from raw lead answers, defaulting to
// the unknown marker.
func PickPhone(extra map[string]string, orderedKeys []string) string {
	if v := lookupField(extra, phoneKeys); v != "" {
		return v
	}
	if v := scanFieldByHint(extra, orderedKeys, phoneHints); v != "" {
		return v
	}
	return models.PlaceholderPhone
}

// ExportFieldList decides which columns an export writes: the explicit
// request, else the list persisted from the previous export, else the
// sheet's dynamic field set, else a fixed name/phone pair.
func ExportFieldList(sheet *models.Sheet, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if len(sheet.ExportFields) > 0 {
		return sheet.ExportFields
	}
	if len(sheet.DynamicFields) > 0 {
		return sheet.DynamicFields
	}
	return []string{"name", "phone"}
}

// ResolveExportField resolves one requested column for a customer. The
// normalized fields fall through to their dynamic-field equivalents when
// the stored value is empty or a known generic placeholder.
func ResolveExportField(c *models.Customer, field string) string {
	switch strings.ToLower(field) {
	case "name":
		if c.Name != "" && c.Name != models.PlaceholderName {
			return c.Name
		}
		if v := lookupField(c.ExtraFields, nameKeys); v != "" {
			return v
		}
		if v := scanFieldByHint(c.ExtraFields, nil, nameHints); v != "" {
			return v
		}
		return ""
	case "phone":
		if c.Phone != "" && c.Phone != models.PlaceholderPhone {
			return c.Phone
		}
		if v := lookupField(c.ExtraFields, phoneKeys); v != "" {
			return v
		}
		if v := scanFieldByHint(c.ExtraFields, nil, phoneHints); v != "" {
			return v
		}
		return ""
	case "company", "organization":
		if c.Company != "" {
			return c.Company
		}
		if v := lookupField(c.ExtraFields, companyKeys); v != "" {
			return v
		}
		if v := scanFieldByHint(c.ExtraFields, nil, companyHints); v != "" {
			return v
		}
		return ""
	case "note":
		return c.Note
	case "status":
		return c.Status
	default:
		for k, v := range c.ExtraFields {
			if strings.EqualFold(k, field) {
				return v
			}
		}
		return ""
	}
}

// BuildExportMatrix renders the header row followed by one row per
// customer. Callers pass customers already sorted by position.
func BuildExportMatrix(fields []string, customers []models.Customer) [][]string {
	matrix := make([][]string, 0, len(customers)+1)
	matrix = append(matrix, fields)
	for i := range customers {
		row := make([]string, len(fields))
		for j, field := range fields {
			row[j] = ResolveExportField(&customers[i], field)
		}
		matrix = append(matrix, row)
	}
	return matrix
}
