// Package services: AssignmentService.
//
// This file implements AssignmentService, which reconciles spreadsheet
// rows (group + instructor names) against the synchronized Zoom cache and
// drives host reassignments through the Zoom API.
//
// Classification runs entirely against an immutable snapshot loaded in
// one read: exact canonical-key lookups first, token-set fuzzy fallback
// second. Execution acquires authorization once up front (fatal when it
// fails), fans the PATCH calls out through a bounded pool, isolates
// per-item failures, and flushes all cache updates and audit entries in a
// single transaction after the batch settles. External reassignments that
// already succeeded stay applied even when that commit fails; the next
// sync reconciles the cache.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/match"
)

// executeWorkers bounds the concurrent host reassignment calls.
const executeWorkers = 12

// AssignmentRepo defines the persistence contract required by
// AssignmentService.
type AssignmentRepo interface {
	AllUsersByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomUserCache, error)
	AllMeetingsByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomMeetingCache, error)
	UpdateMeetingHost(ctx context.Context, db *gorm.DB, meetingID, newHostID string) error
	LogAssignment(ctx context.Context, db *gorm.DB, entry domain.ZoomAssignmentHistory) error
	CountAssignmentHistory(ctx context.Context, db *gorm.DB) (int64, error)
	ListAssignmentHistory(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ZoomAssignmentHistory, error)
}

// CacheSnapshot is an immutable view of the Zoom cache taken in one read.
// Classification and pair resolution run only against it; concurrent
// syncs never disturb an in-flight request.
type CacheSnapshot struct {
	// Users and Meetings are keyed by precomputed canonical key.
	Users    map[string]domain.ZoomUserCache
	Meetings map[string]domain.ZoomMeetingCache
	// UsersNorm and MeetingsNorm are keyed by the fuzzy-normalized
	// display name / topic for token-set fallback lookups.
	UsersNorm    map[string]domain.ZoomUserCache
	MeetingsNorm map[string]domain.ZoomMeetingCache
}

// Empty reports whether the snapshot holds no usable cache data.
func (s *CacheSnapshot) Empty() bool {
	return len(s.Users) == 0 || len(s.Meetings) == 0
}

// ClassifyRow is one spreadsheet row under classification.
type ClassifyRow struct {
	Group      string `json:"group"`
	Instructor string `json:"instructor"`
}

// Pair is one resolved meeting/instructor combination.
type Pair struct {
	Meeting    domain.ZoomMeetingCache `json:"meeting"`
	Instructor domain.ZoomUserCache    `json:"instructor"`
}

// Unresolved is one row that could not be matched.
type Unresolved struct {
	Group      string `json:"group"`
	Instructor string `json:"instructor"`
	Reason     string `json:"reason"`
}

// Classification partitions classified rows: ToUpdate needs a host
// change, OK already has the right host, NotFound could not resolve.
type Classification struct {
	ToUpdate []Pair       `json:"to_update"`
	OK       []Pair       `json:"ok"`
	NotFound []Unresolved `json:"not_found"`
}

// AssignmentInput selects one explicit reassignment for execution.
type AssignmentInput struct {
	MeetingID       string `json:"meeting_id"`
	InstructorEmail string `json:"instructor_email"`
}

// ItemResult is the outcome of one attempted reassignment.
type ItemResult struct {
	MeetingID    string `json:"meeting_id"`
	MeetingTopic string `json:"meeting_topic"`
	NewHostID    string `json:"new_host_id"`
	Status       string `json:"status"`
}

// ExecReport summarizes one execution batch.
type ExecReport struct {
	Success int          `json:"success"`
	Errors  int          `json:"errors"`
	Results []ItemResult `json:"results"`
}

// AssignmentService classifies and executes Zoom host reassignments.
type AssignmentService struct {
	// DB is the GORM handle used for cache and audit persistence.
	DB *gorm.DB
	// Repo is the Zoom cache/audit repository.
	Repo AssignmentRepo
	// API is the Zoom client.
	API ZoomAPI
	// Threshold overrides the fuzzy match cutoff; match.DefaultThreshold
	// when zero.
	Threshold int
}

// NewAssignmentService constructs an AssignmentService with the default
// fuzzy threshold.
func NewAssignmentService(db *gorm.DB, r AssignmentRepo, api ZoomAPI) *AssignmentService {
	return &AssignmentService{DB: db, Repo: r, API: api, Threshold: match.DefaultThreshold}
}

// LoadCache reads the whole Zoom cache once and derives the normalized
// fallback indexes.
func (s *AssignmentService) LoadCache(ctx context.Context) (*CacheSnapshot, error) {
	tr := otel.Tracer("services/AssignmentService")
	ctx, span := tr.Start(ctx, "LoadCache")
	defer span.End()

	users, err := s.Repo.AllUsersByCanonicalKey(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	meetings, err := s.Repo.AllMeetingsByCanonicalKey(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	snap := &CacheSnapshot{
		Users:        users,
		Meetings:     meetings,
		UsersNorm:    make(map[string]domain.ZoomUserCache, len(users)),
		MeetingsNorm: make(map[string]domain.ZoomMeetingCache, len(meetings)),
	}
	for _, u := range users {
		snap.UsersNorm[match.Normalize(u.DisplayName)] = u
	}
	for _, m := range meetings {
		snap.MeetingsNorm[match.Normalize(m.Topic)] = m
	}
	return snap, nil
}

// Classify resolves every row against the snapshot and partitions the
// outcome. Resolution is exact canonical lookup first, fuzzy second; a
// row missing its meeting reports "Meeting not found" even when the
// instructor is missing too.
func (s *AssignmentService) Classify(snap *CacheSnapshot, rows []ClassifyRow) (*Classification, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if snap == nil || snap.Empty() {
		return nil, ErrCacheEmpty
	}

	out := &Classification{ToUpdate: []Pair{}, OK: []Pair{}, NotFound: []Unresolved{}}
	for _, row := range rows {
		meeting, haveMeeting := snap.Meetings[match.Canonical(row.Group)]
		if !haveMeeting {
			meeting, haveMeeting = match.FuzzyFind(row.Group, snap.MeetingsNorm, s.Threshold)
		}
		instructor, haveInstructor := snap.Users[match.Canonical(row.Instructor)]
		if !haveInstructor {
			instructor, haveInstructor = match.FuzzyFind(row.Instructor, snap.UsersNorm, s.Threshold)
		}

		switch {
		case !haveMeeting:
			out.NotFound = append(out.NotFound, Unresolved{
				Group: row.Group, Instructor: row.Instructor, Reason: "Meeting not found",
			})
		case !haveInstructor:
			out.NotFound = append(out.NotFound, Unresolved{
				Group: row.Group, Instructor: row.Instructor, Reason: "Instructor not found",
			})
		case meeting.HostID == instructor.ID:
			out.OK = append(out.OK, Pair{Meeting: meeting, Instructor: instructor})
		default:
			out.ToUpdate = append(out.ToUpdate, Pair{Meeting: meeting, Instructor: instructor})
		}
	}
	return out, nil
}

// ResolvePairs maps explicit (meeting id, instructor email) selections
// back onto cache entries, silently dropping selections that no longer
// resolve.
func (s *AssignmentService) ResolvePairs(snap *CacheSnapshot, inputs []AssignmentInput) []Pair {
	meetingsByID := make(map[string]domain.ZoomMeetingCache, len(snap.Meetings))
	for _, m := range snap.Meetings {
		meetingsByID[m.ID] = m
	}
	usersByEmail := make(map[string]domain.ZoomUserCache, len(snap.Users))
	for _, u := range snap.Users {
		usersByEmail[u.Email] = u
	}

	pairs := make([]Pair, 0, len(inputs))
	for _, in := range inputs {
		if in.MeetingID == "" || in.InstructorEmail == "" {
			continue
		}
		meeting, ok := meetingsByID[in.MeetingID]
		if !ok {
			continue
		}
		instructor, ok := usersByEmail[in.InstructorEmail]
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Meeting: meeting, Instructor: instructor})
	}
	return pairs
}

// Execute performs every reassignment in pairs through a bounded pool.
// Authorization failure before the fan-out aborts the whole batch with
// ErrZoomAuth; after that point failures stay per-item. When all items
// settle, cache host updates and audit entries flush in one transaction.
func (s *AssignmentService) Execute(ctx context.Context, actorID string, pairs []Pair) (*ExecReport, error) {
	tr := otel.Tracer("services/AssignmentService")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("actor.id", actorID),
			attribute.Int("assignments.count", len(pairs)),
		),
	)
	defer span.End()

	if len(pairs) == 0 {
		return nil, ErrNoAssignments
	}

	// One token exchange up front; a dead credential must not half-run
	// the batch.
	if err := s.API.Verify(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrZoomAuth, err)
	}

	type cacheUpdate struct {
		meetingID string
		hostID    string
	}
	var (
		mu      sync.Mutex
		updates []cacheUpdate
		history []domain.ZoomAssignmentHistory
	)
	results := make([]ItemResult, len(pairs))

	g := new(errgroup.Group)
	g.SetLimit(executeWorkers)
	for i, p := range pairs {
		g.Go(func() error {
			entry := domain.ZoomAssignmentHistory{
				Timestamp:      time.Now().UTC(),
				MeetingID:      p.Meeting.ID,
				MeetingTopic:   p.Meeting.Topic,
				PreviousHostID: p.Meeting.HostID,
				NewHostID:      p.Instructor.ID,
				ActorID:        actorID,
			}

			if err := s.API.UpdateMeetingHost(ctx, p.Meeting.ID, p.Instructor.Email); err != nil {
				entry.Status = "ERROR: " + err.Error()
			} else {
				entry.Status = "SUCCESS"
			}

			mu.Lock()
			if entry.Status == "SUCCESS" {
				updates = append(updates, cacheUpdate{meetingID: p.Meeting.ID, hostID: p.Instructor.ID})
			}
			history = append(history, entry)
			mu.Unlock()

			results[i] = ItemResult{
				MeetingID:    p.Meeting.ID,
				MeetingTopic: p.Meeting.Topic,
				NewHostID:    p.Instructor.ID,
				Status:       entry.Status,
			}
			return nil
		})
	}
	// Workers report through results; Wait only joins them.
	_ = g.Wait()

	report := &ExecReport{Results: results}
	for _, r := range results {
		if r.Status == "SUCCESS" {
			report.Success++
		} else {
			report.Errors++
		}
	}

	// Single batched commit for cache rewrites and the audit trail. The
	// external reassignments are already applied; a failure here leaves
	// the cache stale until the next sync.
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := s.Repo.UpdateMeetingHost(ctx, tx, u.meetingID, u.hostID); err != nil {
				return err
			}
		}
		for _, h := range history {
			if err := s.Repo.LogAssignment(ctx, tx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// History returns one page of the audit trail, most recent first, plus
// the total entry count.
func (s *AssignmentService) History(ctx context.Context, page, pageSize int) ([]domain.ZoomAssignmentHistory, int64, error) {
	tr := otel.Tracer("services/AssignmentService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	total, err := s.Repo.CountAssignmentHistory(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ZoomAssignmentHistory{}, 0, nil
	}
	items, err := s.Repo.ListAssignmentHistory(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}
