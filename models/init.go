package models

import "gorm.io/gorm"

// CreateDevUser seeds a development account so the dashboard and mobile app
// can log in against a fresh database. Called from the migration path only
// when the environment is not production.
func CreateDevUser(db *gorm.DB) error {
	user := User{
		Email:    "dev@leadpilot.local",
		IsActive: true,
	}
	if err := user.SetPassword("devpassword"); err != nil {
		return err
	}
	return db.FirstOrCreate(&user, "email = ?", user.Email).Error
}
