package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/walletrecovery/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.RecoveryMethod{},
		&models.CacheEntry{},
	)
}

// BackfillIdentityKeys fills identity_key for rows written before the column existed.
func BackfillIdentityKeys(db *gorm.DB) error {
	var legacy []models.RecoveryMethod
	if err := db.Where("identity_key = ? OR identity_key IS NULL", "").Find(&legacy).Error; err != nil {
		return err
	}

	for _, method := range legacy {
		key := models.IdentityKeyFor(method.Kind, method.PublicKey)
		if err := db.Model(&models.RecoveryMethod{}).
			Where("id = ?", method.ID).
			UpdateColumn("identity_key", key).Error; err != nil {
			return err
		}
	}
	return nil
}
