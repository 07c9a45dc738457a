package models

import (
	"time"

	"gorm.io/gorm"
)

// Call request lifecycle. Pending requests past their expiry are treated as
// expired by every reader; the sweep worker only persists that fact.
const (
	CallPending   = "pending"
	CallAccepted  = "accepted"
	CallRejected  = "rejected"
	CallCompleted = "completed"
	CallExpired   = "expired"
)

// CallRequestTTL is the fixed window a mobile client has to react.
const CallRequestTTL = 5 * time.Minute

// CallRequest is a dashboard-initiated call handoff ticket delivered to the
// owner's mobile app.
type CallRequest struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	CustomerID uint `gorm:"not null;index" json:"customer_id"`

	Phone string `gorm:"not null" json:"phone"`
	Name  string `json:"name"`

	Status      string     `gorm:"default:'pending';index" json:"status"`
	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	ExpiresAt   time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EffectiveStatus evaluates expiry lazily: a stored pending request past its
// expiry is expired regardless of what the row says.
func (r *CallRequest) EffectiveStatus(now time.Time) string {
	if r.Status == CallPending && now.After(r.ExpiresAt) {
		return CallExpired
	}
	return r.Status
}

// IsTerminal reports whether no further transition is permitted. Accepted is
// not terminal: it may still be marked completed.
func (r *CallRequest) IsTerminal(now time.Time) bool {
	switch r.EffectiveStatus(now) {
	case CallRejected, CallCompleted, CallExpired:
		return true
	}
	return false
}
