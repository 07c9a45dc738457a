package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User represents a business account in the system.
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Legacy Meta integration: a single page claimed by the account with
	// one user-level token. Newer accounts use PageConnections instead;
	// a page-scoped connection wins over these when both match a page.
	MetaPageID      string `gorm:"index" json:"meta_page_id,omitempty"`
	MetaAccessToken string `json:"-"`

	// Relations
	PageConnections []PageConnection `gorm:"foreignKey:UserID" json:"page_connections,omitempty"`
	Sheets          []Sheet          `gorm:"foreignKey:UserID" json:"sheets,omitempty"`
	CallRequests    []CallRequest    `gorm:"foreignKey:UserID" json:"call_requests,omitempty"`
}

// PageConnection is a page-scoped Meta credential. One account may connect
// several pages, each with its own access token and webhook verify token.
type PageConnection struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	PageID      string `gorm:"not null;index" json:"page_id"`
	PageName    string `json:"page_name"`
	AccessToken string `gorm:"not null" json:"-"`
	VerifyToken string `json:"-"`
}

// SetPassword hashes and stores the given plaintext password.
func (u *User) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares a plaintext password with the stored hash.
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}
