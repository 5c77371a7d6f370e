package database

import (
	"gorm.io/gorm"

	"github.com/maelcorre/fleetdesk/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Notification{},
	)
}

// SeedData populates the default roles used for role-targeted dispatches.
func SeedData(db *gorm.DB) error {
	roles := []models.Role{
		{Code: "admin", Name: "Administrator"},
		{Code: "operator", Name: "Fleet Operator"},
		{Code: "driver", Name: "Driver"},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{Code: role.Code}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	return nil
}
