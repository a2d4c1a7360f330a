// Package services: SyncService.
//
// This file implements SyncService, which mirrors the Zoom account state
// (users and their upcoming meetings) into the local cache tables. A full
// sync lists every user, fans out the per-user meeting listings through
// the API client's bounded pool, deduplicates recurring meetings by id,
// precomputes canonical lookup keys, bulk-upserts both tables, and prunes
// rows whose id vanished from the fresh fetch.
//
// Repeat syncs inside the configured interval are skipped unless forced;
// the gate lives in the sync bookkeeping key/value table so it survives
// restarts.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/match"
	"github.com/kronoshq/kronos-backend/internal/zoom"
)

// lastSyncKey is the bookkeeping key holding the RFC3339 timestamp of the
// last completed sync.
const lastSyncKey = "last_sync"

// DefaultSyncInterval gates repeat full syncs.
const DefaultSyncInterval = 3 * time.Hour

// ZoomAPI is the consumer-side contract SyncService and AssignmentService
// require from the Zoom client.
type ZoomAPI interface {
	Verify(ctx context.Context) error
	ListUsers(ctx context.Context) ([]zoom.User, error)
	ListMeetings(ctx context.Context, userIDs []string) ([]zoom.Meeting, int, error)
	UpdateMeetingHost(ctx context.Context, meetingID, hostEmail string) error
}

// SyncRepo defines the persistence contract required by SyncService.
type SyncRepo interface {
	BulkUpsertUsers(ctx context.Context, db *gorm.DB, users []domain.ZoomUserCache) error
	BulkUpsertMeetings(ctx context.Context, db *gorm.DB, meetings []domain.ZoomMeetingCache) error
	PruneStaleUsers(ctx context.Context, db *gorm.DB, freshIDs []string) error
	PruneStaleMeetings(ctx context.Context, db *gorm.DB, freshIDs []string) error
	GetConfigValue(ctx context.Context, db *gorm.DB, key string) (string, error)
	SetConfigValue(ctx context.Context, db *gorm.DB, key, value string) error
	AllUsersByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomUserCache, error)
	AllMeetingsByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomMeetingCache, error)
}

// SyncStats reports what one sync call did.
type SyncStats struct {
	Users        int  `json:"users"`
	Meetings     int  `json:"meetings"`
	SkippedUsers int  `json:"skipped_users"`
	Skipped      bool `json:"skipped"`
}

// SyncStatus describes the current cache state.
type SyncStatus struct {
	LastSync      string `json:"last_sync"`
	UsersCount    int    `json:"users_count"`
	MeetingsCount int    `json:"meetings_count"`
}

// SyncService mirrors Zoom account data into the local cache.
type SyncService struct {
	// DB is the GORM handle used for cache persistence.
	DB *gorm.DB
	// Repo is the Zoom cache repository.
	Repo SyncRepo
	// API is the Zoom client.
	API ZoomAPI
	// Interval gates repeat syncs; DefaultSyncInterval when zero.
	Interval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSyncService constructs a SyncService with the default interval.
func NewSyncService(db *gorm.DB, r SyncRepo, api ZoomAPI) *SyncService {
	return &SyncService{DB: db, Repo: r, API: api, Interval: DefaultSyncInterval, now: time.Now}
}

func (s *SyncService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *SyncService) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultSyncInterval
}

// Sync performs a full cache refresh unless a recent one exists and force
// is false. Returns what was fetched, or Skipped=true when gated.
func (s *SyncService) Sync(ctx context.Context, force bool) (*SyncStats, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Sync",
		trace.WithAttributes(attribute.Bool("sync.force", force)),
	)
	defer span.End()

	if !force && s.recentlySynced(ctx) {
		log.Ctx(ctx).Info().Msg("zoom cache is fresh; skipping sync")
		return &SyncStats{Skipped: true}, nil
	}

	rawUsers, err := s.API.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]domain.ZoomUserCache, 0, len(rawUsers))
	userIDs := make([]string, 0, len(rawUsers))
	for _, u := range rawUsers {
		name := u.DisplayName()
		users = append(users, domain.ZoomUserCache{
			ID:           u.ID,
			Email:        u.Email,
			DisplayName:  name,
			KeyCanonical: match.Canonical(name),
		})
		userIDs = append(userIDs, u.ID)
	}

	rawMeetings, skippedUsers, err := s.API.ListMeetings(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	unique := zoom.UniqueMeetings(rawMeetings)

	meetings := make([]domain.ZoomMeetingCache, 0, len(unique))
	meetingIDs := make([]string, 0, len(unique))
	for _, m := range unique {
		id := m.ID.String()
		meetings = append(meetings, domain.ZoomMeetingCache{
			ID:           id,
			Topic:        m.Topic,
			HostID:       m.HostID,
			KeyCanonical: match.Canonical(m.Topic),
		})
		meetingIDs = append(meetingIDs, id)
	}

	if err := s.Repo.BulkUpsertUsers(ctx, s.DB, users); err != nil {
		return nil, err
	}
	if err := s.Repo.BulkUpsertMeetings(ctx, s.DB, meetings); err != nil {
		return nil, err
	}
	if err := s.Repo.PruneStaleUsers(ctx, s.DB, userIDs); err != nil {
		return nil, err
	}
	if err := s.Repo.PruneStaleMeetings(ctx, s.DB, meetingIDs); err != nil {
		return nil, err
	}
	if err := s.Repo.SetConfigValue(ctx, s.DB, lastSyncKey, s.clock().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Int("users", len(users)).
		Int("meetings", len(meetings)).
		Int("skipped_users", skippedUsers).
		Msg("zoom sync complete")

	return &SyncStats{Users: len(users), Meetings: len(meetings), SkippedUsers: skippedUsers}, nil
}

// recentlySynced reports whether a sync completed inside the interval. An
// unreadable or unparsable timestamp never blocks a sync.
func (s *SyncService) recentlySynced(ctx context.Context) bool {
	raw, err := s.Repo.GetConfigValue(ctx, s.DB, lastSyncKey)
	if err != nil || raw == "" {
		return false
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return s.clock().Sub(last) < s.interval()
}

// Status reports the last sync timestamp and current cache sizes.
func (s *SyncService) Status(ctx context.Context) (*SyncStatus, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Status")
	defer span.End()

	last, err := s.Repo.GetConfigValue(ctx, s.DB, lastSyncKey)
	if err != nil {
		return nil, err
	}
	users, err := s.Repo.AllUsersByCanonicalKey(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	meetings, err := s.Repo.AllMeetingsByCanonicalKey(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{LastSync: last, UsersCount: len(users), MeetingsCount: len(meetings)}, nil
}
