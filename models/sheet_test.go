package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListValueScanRoundtrip(t *testing.T) {
	list := StringList{"budget", "city"}

	v, err := list.Value()
	require.NoError(t, err)

	var scanned StringList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, list, scanned)
}

func TestStringListNilValue(t *testing.T) {
	var list StringList
	v, err := list.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestStringListContainsIsCaseInsensitive(t *testing.T) {
	list := StringList{"Full Name"}
	assert.True(t, list.Contains("full name"))
	assert.False(t, list.Contains("phone"))
}

func TestFieldMapValueScanRoundtrip(t *testing.T) {
	m := FieldMap{"budget": "10k", "lead_id": "lead-1"}

	v, err := m.Value()
	require.NoError(t, err)

	var scanned FieldMap
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	assert.Equal(t, m, scanned)
}

func TestAddDynamicFieldsIsMonotonicUnion(t *testing.T) {
	sheet := Sheet{DynamicFields: StringList{"budget"}}

	assert.True(t, sheet.AddDynamicFields([]string{"budget", "city", ""}))
	assert.Equal(t, StringList{"budget", "city"}, sheet.DynamicFields)

	assert.False(t, sheet.AddDynamicFields([]string{"Budget", "CITY"}),
		"case variants of known fields are not re-added")
}

func TestCustomerMarkers(t *testing.T) {
	manual := Customer{}
	assert.Empty(t, manual.LeadID())
	assert.False(t, manual.IsFromMeta())

	ingested := Customer{ExtraFields: FieldMap{ExtraKeyLeadID: "lead-1"}}
	assert.Equal(t, "lead-1", ingested.LeadID())
	assert.True(t, ingested.IsFromMeta())

	mirrored := Customer{ExtraFields: FieldMap{ExtraKeyIsCopy: "true"}}
	assert.True(t, mirrored.IsCopy())
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(StatusFollowUp))
	assert.False(t, IsValidStatus("follow up"), "statuses are case sensitive")
	assert.False(t, IsValidStatus(""))
}
