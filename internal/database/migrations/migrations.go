package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/neftit/taskgate/internal/logger"
)

// All returns every migration in apply order
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		CreateUsersTable(),
		CreateOAuthStatesTable(),
		AddWalletLowerIndex(),
	}
}

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, All())

	if err := m.Migrate(); err != nil {
		logger.Error(err, zap.String("stage", "migrate"))
		return err
	}
	logger.Info("migrations ran successfully")
	return nil
}

// RollbackLast rolls back the most recently applied migration
func RollbackLast(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, All())
	return m.RollbackLast()
}
