package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// StringList is an ordered list of strings stored as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported type %T for StringList", value)
}

// Contains reports whether name is present, case-insensitively.
func (l StringList) Contains(name string) bool {
	for _, s := range l {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// FieldMap is an open string->string map stored as a JSON text column.
type FieldMap map[string]string

func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *FieldMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported type %T for FieldMap", value)
}

// Sheet is a named bucket of customers, analogous to a worksheet. Sheets are
// either created manually from the dashboard or lazily by the Meta webhook:
// one per ad, plus one master sheet aggregating every ad of the same form.
type Sheet struct {
	gorm.Model
	UserID uint `gorm:"not null;index;uniqueIndex:idx_sheets_routing,priority:1" json:"user_id"`

	Name     string `gorm:"not null" json:"name"`
	FromMeta bool   `gorm:"default:false" json:"from_meta"`
	IsMaster bool   `gorm:"default:false;uniqueIndex:idx_sheets_routing,priority:4" json:"is_master"`

	// Routing key. Only meaningful when FromMeta is true. The raw ids are
	// what webhook routing matches on; the names are display values.
	// The partial unique index holds at most one master per (user, page,
	// form) and one ad sheet per full tuple, so concurrent webhook events
	// racing to create the same sheet hit a conflict and re-read instead of
	// duplicating. Dashboard and merged sheets fall outside the predicate.
	PageID       string `gorm:"uniqueIndex:idx_sheets_routing,priority:2,where:from_meta AND deleted_at IS NULL AND (is_master OR campaign_name <> '')" json:"page_id"`
	FormID       string `gorm:"uniqueIndex:idx_sheets_routing,priority:3" json:"form_id"`
	PageName     string `json:"page_name"`
	FormName     string `json:"form_name"`
	CampaignName string `gorm:"uniqueIndex:idx_sheets_routing,priority:5" json:"campaign_name"`
	AdsetName    string `gorm:"uniqueIndex:idx_sheets_routing,priority:6" json:"adset_name"`
	AdName       string `gorm:"uniqueIndex:idx_sheets_routing,priority:7" json:"ad_name"`

	// Field names discovered from incoming lead payloads. Grows
	// monotonically; ingestion never removes entries.
	DynamicFields StringList `gorm:"type:text" json:"dynamic_fields"`

	// External spreadsheet mirror configuration.
	LinkedSheetURL string     `json:"linked_sheet_url"`
	LinkedTabName  string     `json:"linked_tab_name"`
	ColumnMapping  FieldMap   `gorm:"type:text" json:"column_mapping"`
	ExportFields   StringList `gorm:"type:text" json:"export_fields"`
	RealtimeSync   bool       `gorm:"default:false" json:"realtime_sync"`

	Customers []Customer `gorm:"foreignKey:SheetID" json:"customers,omitempty"`
}

// AddDynamicFields unions names into DynamicFields preserving order of first
// appearance. Returns true when at least one new name was added.
func (s *Sheet) AddDynamicFields(names []string) bool {
	changed := false
	for _, name := range names {
		if name == "" || s.DynamicFields.Contains(name) {
			continue
		}
		s.DynamicFields = append(s.DynamicFields, name)
		changed = true
	}
	return changed
}
