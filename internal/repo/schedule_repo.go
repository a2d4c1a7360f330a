// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the per-user
// schedule collection.
//
// The schedule is stored as one JSON document per user with whole-document
// replace semantics: Save always writes the full collection, Load always
// returns it in full. There is deliberately no row-level persistence; the
// schedule engine owns row lifecycle in memory and the repo only snapshots
// its state.
//
// Error semantics:
//   - When no schedule exists for a user, LoadSchedule returns ErrNotFound.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/schedule"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// LoadSchedule fetches and decodes the stored collection for userID.
// Returns ErrNotFound when the user has never saved a schedule.
func LoadSchedule(ctx context.Context, db *gorm.DB, userID string) (*schedule.Collection, error) {
	var rec domain.UserSchedule
	if err := db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}

	var col schedule.Collection
	if err := json.Unmarshal([]byte(rec.Data), &col); err != nil {
		return nil, err
	}
	if col.ProcessedFiles == nil {
		col.ProcessedFiles = []string{}
	}
	if col.AllRows == nil {
		col.AllRows = []schedule.StoredRow{}
	}
	return &col, nil
}

// SaveSchedule encodes and upserts the full collection for userID,
// replacing any previously stored document.
func SaveSchedule(ctx context.Context, db *gorm.DB, userID string, col *schedule.Collection) error {
	if col == nil {
		return errors.New("nil schedule collection")
	}
	raw, err := json.Marshal(col)
	if err != nil {
		return err
	}
	rec := domain.UserSchedule{
		UserID:    userID,
		Data:      string(raw),
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&rec).Error
}
