package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func getMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&sessionRecord{}, &messageRecord{})
			},
		},
	})

	migrator.InitSchema(func(tx *gorm.DB) error {
		// Run by the migrator on a clean database so it can create the
		// latest schema directly instead of replaying every migration.
		dbType := db.Dialector.Name()
		if dbType == "sqlite" || dbType == "sqlite3" {
			// Sqlite does not enable foreign key constraints by default.
			if err := tx.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				return err
			}
		}

		return tx.AutoMigrate(&sessionRecord{}, &messageRecord{})
	})

	return migrator
}
