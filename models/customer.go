package models

import (
	"gorm.io/gorm"
)

// Customer statuses as shown on the dashboard.
const (
	StatusNew           = "New"
	StatusCalled        = "Called"
	StatusInterested    = "Interested"
	StatusNotInterested = "Not Interested"
	StatusFollowUp      = "Follow Up"
	StatusVoicemail     = "Voicemail"
)

// System-internal keys kept inside Customer.ExtraFields alongside the raw
// lead answers. Consumers must treat any other key as opaque.
const (
	ExtraKeyLeadID        = "lead_id"
	ExtraKeyEmail         = "email"
	ExtraKeyCampaignName  = "campaign_name"
	ExtraKeyAdsetName     = "adset_name"
	ExtraKeyAdName        = "ad_name"
	ExtraKeyIsCopy        = "is_copy"
	ExtraKeySourceSheetID = "source_sheet_id"
)

// Placeholder values used when a lead payload carries no usable identity.
const (
	PlaceholderName  = "Meta Lead"
	PlaceholderPhone = "unknown"
)

// ValidStatuses lists every accepted customer status.
var ValidStatuses = []string{
	StatusNew, StatusCalled, StatusInterested,
	StatusNotInterested, StatusFollowUp, StatusVoicemail,
}

// Customer is a single lead row inside a sheet.
type Customer struct {
	gorm.Model
	UserID  uint `gorm:"not null;index" json:"user_id"`
	SheetID uint `gorm:"not null;index" json:"sheet_id"`

	Name    string `json:"name"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
	Note    string `gorm:"type:text" json:"note"`
	Status  string `gorm:"default:'New'" json:"status"`

	// Manual ordering position, dense per sheet.
	Position int `gorm:"not null;index" json:"position"`

	// Raw lead answers plus the system markers above.
	ExtraFields FieldMap `gorm:"type:text" json:"extra_fields"`
}

// LeadID returns the external lead id marker, empty for manual rows.
func (c *Customer) LeadID() string {
	return c.ExtraFields[ExtraKeyLeadID]
}

// IsFromMeta reports whether the row was ingested from the ads platform.
// Manually entered and imported rows carry no lead id marker.
func (c *Customer) IsFromMeta() bool {
	return c.LeadID() != ""
}

// IsCopy reports whether the row is a consolidation copy mirrored into a
// master or merged sheet.
func (c *Customer) IsCopy() bool {
	return c.ExtraFields[ExtraKeyIsCopy] == "true"
}

func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}
