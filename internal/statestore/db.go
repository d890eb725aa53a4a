package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neftit/taskgate/internal/models"
)

// DBStore keeps states in the oauth_states table
type DBStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewDBStore creates a database-backed store
func NewDBStore(db *gorm.DB, ttl time.Duration) *DBStore {
	return &DBStore{db: db, ttl: ttl}
}

func (d *DBStore) Set(ctx context.Context, key string, state State) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}
	var data models.JSON
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to convert oauth state: %w", err)
	}

	row := models.OAuthState{
		StateKey:  key,
		Data:      data,
		CreatedAt: state.CreatedAt.UTC(),
		ExpiresAt: state.CreatedAt.Add(d.ttl).UTC(),
	}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

func (d *DBStore) Get(ctx context.Context, key string) (State, error) {
	var row models.OAuthState
	err := d.db.WithContext(ctx).
		Where("state_key = ? AND expires_at > ?", key, time.Now().UTC()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("failed to load oauth state: %w", err)
	}

	raw, err := json.Marshal(row.Data)
	if err != nil {
		return State{}, fmt.Errorf("failed to read oauth state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}
	return state, nil
}

func (d *DBStore) Delete(ctx context.Context, key string) error {
	if err := d.db.WithContext(ctx).Where("state_key = ?", key).Delete(&models.OAuthState{}).Error; err != nil {
		return fmt.Errorf("failed to delete oauth state: %w", err)
	}
	return nil
}

func (d *DBStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res := d.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&models.OAuthState{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep oauth states: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (d *DBStore) Len(ctx context.Context) (int, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.OAuthState{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count oauth states: %w", err)
	}
	return int(count), nil
}

func (d *DBStore) Name() string { return "database" }
