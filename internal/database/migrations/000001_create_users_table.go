package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/neftit/taskgate/internal/models"
)

// CreateUsersTable creates the participants table with its unique identity columns
func CreateUsersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_users_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Participant{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("users")
		},
	}
}

// CreateOAuthStatesTable creates the durable OAuth handshake state table
func CreateOAuthStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_oauth_states_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.OAuthState{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("oauth_states")
		},
	}
}

// AddWalletLowerIndex makes wallet uniqueness case-insensitive at the database
// level, so two near-simultaneous submissions of the same address cannot both land.
func AddWalletLowerIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_wallet_lower_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_wallet_address_lower ON users (LOWER(wallet_address))`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_users_wallet_address_lower`).Error
		},
	}
}
