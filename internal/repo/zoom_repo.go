// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Zoom
// cache (users, meetings), the assignment audit trail, and the sync
// bookkeeping key/value table.
//
// Cache tables are bulk-replaced on each sync cycle: upsert the fresh
// entries, then prune everything whose id is absent from the fresh set.
//
// Functions accept a *gorm.DB handle so callers can run them inside a
// transaction; the execution phase relies on this to flush its cache
// updates and history entries as a single batched commit.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kronoshq/kronos-backend/internal/domain"
)

// AllUsersByCanonicalKey returns every cached Zoom user keyed by its
// precomputed canonical display-name key.
func AllUsersByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomUserCache, error) {
	var users []domain.ZoomUserCache
	if err := db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.ZoomUserCache, len(users))
	for _, u := range users {
		out[u.KeyCanonical] = u
	}
	return out, nil
}

// AllMeetingsByCanonicalKey returns every cached Zoom meeting keyed by its
// precomputed canonical topic key.
func AllMeetingsByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomMeetingCache, error) {
	var meetings []domain.ZoomMeetingCache
	if err := db.WithContext(ctx).Find(&meetings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.ZoomMeetingCache, len(meetings))
	for _, m := range meetings {
		out[m.KeyCanonical] = m
	}
	return out, nil
}

// BulkUpsertUsers inserts or updates cached users in one statement.
// Empty input is a no-op.
func BulkUpsertUsers(ctx context.Context, db *gorm.DB, users []domain.ZoomUserCache) error {
	if len(users) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "key_canonical"}),
		}).
		Create(&users).Error
}

// BulkUpsertMeetings inserts or updates cached meetings in one statement.
// Empty input is a no-op.
func BulkUpsertMeetings(ctx context.Context, db *gorm.DB, meetings []domain.ZoomMeetingCache) error {
	if len(meetings) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"topic", "host_id", "key_canonical"}),
		}).
		Create(&meetings).Error
}

// PruneStaleUsers removes cached users whose id is not in freshIDs.
// An empty freshIDs set is a no-op; a failed fetch must not wipe the cache.
func PruneStaleUsers(ctx context.Context, db *gorm.DB, freshIDs []string) error {
	if len(freshIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("id NOT IN ?", freshIDs).
		Delete(&domain.ZoomUserCache{}).Error
}

// PruneStaleMeetings removes cached meetings whose id is not in freshIDs.
// An empty freshIDs set is a no-op.
func PruneStaleMeetings(ctx context.Context, db *gorm.DB, freshIDs []string) error {
	if len(freshIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("id NOT IN ?", freshIDs).
		Delete(&domain.ZoomMeetingCache{}).Error
}

// UpdateMeetingHost rewrites the cached host of one meeting after a
// successful reassignment. Missing meetings are ignored (the external
// update already happened; the next sync will reconcile).
func UpdateMeetingHost(ctx context.Context, db *gorm.DB, meetingID, newHostID string) error {
	return db.WithContext(ctx).
		Model(&domain.ZoomMeetingCache{}).
		Where("id = ?", meetingID).
		Update("host_id", newHostID).Error
}

// LogAssignment appends one audit entry for an attempted reassignment.
func LogAssignment(ctx context.Context, db *gorm.DB, entry domain.ZoomAssignmentHistory) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(&entry).Error
}

// CountAssignmentHistory returns the total number of audit entries.
func CountAssignmentHistory(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.ZoomAssignmentHistory{}).Count(&total).Error
	return total, err
}

// ListAssignmentHistory returns a page of audit entries, most recent first.
func ListAssignmentHistory(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ZoomAssignmentHistory, error) {
	var out []domain.ZoomAssignmentHistory
	err := db.WithContext(ctx).
		Order("timestamp desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetConfigValue reads one sync bookkeeping value, or "" when unset.
func GetConfigValue(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var rec domain.ZoomSyncConfig
	err := db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return rec.Value, nil
}

// SetConfigValue upserts one sync bookkeeping value.
func SetConfigValue(ctx context.Context, db *gorm.DB, key, value string) error {
	rec := domain.ZoomSyncConfig{Key: key, Value: value}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&rec).Error
}
