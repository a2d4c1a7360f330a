// Package domain defines the persistence models for user schedules, the
// synchronized Zoom cache, and the assignment audit trail. These types are
// mapped with GORM and form the core data layer of the application.
package domain

import "time"

// UserSchedule stores the complete schedule state of one authenticated user
// as a single JSON document: the processed filenames plus every stored row,
// active and deleted. The whole blob is replaced on each mutating operation;
// there is no partial, field-level persistence.
//
// Guests never reach this table; their collections live in the TTL session
// store and evaporate with the session.
type UserSchedule struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Data      string    `json:"-"       gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserSchedule.
func (UserSchedule) TableName() string { return "user_schedules" }

// ZoomUserCache is one synchronized Zoom account user. KeyCanonical is the
// strict-normalized display name, precomputed at cache-write time so the
// classifier can do O(1) exact lookups without renormalizing per request.
// The whole table is bulk-replaced on each sync cycle and stale entries are
// pruned.
type ZoomUserCache struct {
	ID           string `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Email        string `json:"email"         gorm:"type:varchar(255);not null"`
	DisplayName  string `json:"display_name"  gorm:"type:varchar(255);not null"`
	KeyCanonical string `json:"key_canonical" gorm:"type:varchar(255);not null;index"`
}

// TableName returns the database table name for ZoomUserCache.
func (ZoomUserCache) TableName() string { return "zoom_user_cache" }

// ZoomMeetingCache is one synchronized Zoom meeting. KeyCanonical is the
// strict-normalized topic, precomputed like ZoomUserCache.KeyCanonical.
type ZoomMeetingCache struct {
	ID           string `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Topic        string `json:"topic"         gorm:"type:varchar(512);not null"`
	HostID       string `json:"host_id"       gorm:"type:varchar(64);not null;index"`
	KeyCanonical string `json:"key_canonical" gorm:"type:varchar(255);not null;index"`
}

// TableName returns the database table name for ZoomMeetingCache.
func (ZoomMeetingCache) TableName() string { return "zoom_meeting_cache" }

// ZoomAssignmentHistory is the append-only audit trail of host reassignment
// attempts. One entry exists per attempted execution, successful or not;
// Status carries either "SUCCESS" or "ERROR: <provider detail>".
type ZoomAssignmentHistory struct {
	ID             uint      `json:"id"               gorm:"primaryKey;autoIncrement"`
	Timestamp      time.Time `json:"timestamp"        gorm:"not null;index"`
	MeetingID      string    `json:"meeting_id"       gorm:"type:varchar(64);not null;index"`
	MeetingTopic   string    `json:"meeting_topic"    gorm:"type:varchar(512);not null"`
	PreviousHostID string    `json:"previous_host_id" gorm:"type:varchar(64);not null"`
	NewHostID      string    `json:"new_host_id"      gorm:"type:varchar(64);not null"`
	Status         string    `json:"status"           gorm:"type:varchar(512);not null"`
	ActorID        string    `json:"actor_id"         gorm:"type:varchar(64)"`
}

// TableName returns the database table name for ZoomAssignmentHistory.
func (ZoomAssignmentHistory) TableName() string { return "zoom_assignment_history" }

// ZoomSyncConfig is a small key/value table for sync bookkeeping, currently
// the last-sync timestamp that gates repeat full syncs.
type ZoomSyncConfig struct {
	Key   string `gorm:"type:varchar(64);primaryKey"`
	Value string `gorm:"type:text;not null"`
}

// TableName returns the database table name for ZoomSyncConfig.
func (ZoomSyncConfig) TableName() string { return "zoom_sync_config" }

// Idempotency records a previously executed assignment batch, keyed by
// (user_id, key). It enables safe retries of POST executions by letting the
// handler detect a replayed Idempotency-Key and skip re-running side effects.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:2"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
