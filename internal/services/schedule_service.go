// Package services: ScheduleService.
//
// This file implements ScheduleService, which orchestrates the schedule
// lifecycle for both owner kinds: authenticated users (repo-backed, whole
// collection persisted after every mutation) and guests (TTL session
// store, nothing touches the database). It coordinates upload validation
// and parsing, row merge/delete/restore, and the active-row projection
// consumed by listings and exports.
//
// Upload batches never abort midway: a file that is oversize, malformed,
// or unparsable is recorded as a per-file error and the rest of the batch
// continues. Files whose name was already merged are skipped silently;
// re-uploading the same workbook is a no-op by design.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"bytes"
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kronoshq/kronos-backend/internal/schedule"
	"github.com/kronoshq/kronos-backend/internal/xlsx"
)

// ScheduleRepo defines the persistence contract required by
// ScheduleService for authenticated owners.
type ScheduleRepo interface {
	// LoadSchedule fetches the stored collection, or
	// gorm.ErrRecordNotFound when the user never saved one.
	LoadSchedule(ctx context.Context, db *gorm.DB, userID string) (*schedule.Collection, error)

	// SaveSchedule upserts the whole collection document.
	SaveSchedule(ctx context.Context, db *gorm.DB, userID string, col *schedule.Collection) error
}

// SessionStore defines the guest-side state contract (a TTL cache).
type SessionStore interface {
	GetOrCreate(id string) *schedule.Collection
	Put(id string, col *schedule.Collection)
}

// Owner identifies whose schedule an operation touches. UserID set means
// an authenticated, repo-backed owner; otherwise SessionID selects the
// guest session state.
type Owner struct {
	UserID    string
	SessionID string
}

// Authenticated reports whether the owner persists through the repo.
func (o Owner) Authenticated() bool { return o.UserID != "" }

// Upload is one file of an upload batch.
type Upload struct {
	Filename string
	Content  []byte
}

// UploadReport summarizes one processed batch.
type UploadReport struct {
	// Processed lists filenames merged by this batch.
	Processed []string `json:"processed"`
	// Skipped lists filenames ignored because they were merged before.
	Skipped []string `json:"skipped"`
	// Errors holds one human-readable message per rejected or failed file.
	Errors []string `json:"errors"`
	// ActiveRows is the post-merge active row count.
	ActiveRows int `json:"active_rows"`
}

// ScheduleService coordinates uploads and row lifecycle over a per-owner
// schedule collection.
type ScheduleService struct {
	// DB is the GORM handle used for authenticated persistence.
	DB *gorm.DB
	// Repo is the schedule repository.
	Repo ScheduleRepo
	// Sessions holds guest collections.
	Sessions SessionStore
	// Parser converts validated workbooks into canonical rows.
	Parser xlsx.Parser
}

// NewScheduleService constructs a ScheduleService with the generated
// workbook parser.
func NewScheduleService(db *gorm.DB, r ScheduleRepo, sessions SessionStore) *ScheduleService {
	return &ScheduleService{DB: db, Repo: r, Sessions: sessions, Parser: xlsx.GeneratedParser{}}
}

// load materializes the owner's collection, starting empty for owners
// with no prior state.
func (s *ScheduleService) load(ctx context.Context, owner Owner) (*schedule.Collection, error) {
	if !owner.Authenticated() {
		return s.Sessions.GetOrCreate(owner.SessionID), nil
	}
	col, err := s.Repo.LoadSchedule(ctx, s.DB, owner.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schedule.NewCollection(), nil
	}
	return col, err
}

// save writes the collection back to wherever the owner lives.
func (s *ScheduleService) save(ctx context.Context, owner Owner, col *schedule.Collection) error {
	if !owner.Authenticated() {
		s.Sessions.Put(owner.SessionID, col)
		return nil
	}
	return s.Repo.SaveSchedule(ctx, s.DB, owner.UserID, col)
}

// ProcessUploads validates, parses, and merges a batch of workbooks into
// the owner's collection. Per-file failures land in the report's Errors;
// only persistence failures surface as the returned error.
func (s *ScheduleService) ProcessUploads(ctx context.Context, owner Owner, files []Upload) (*UploadReport, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "ProcessUploads",
		trace.WithAttributes(
			attribute.String("owner.user_id", owner.UserID),
			attribute.Int("upload.files", len(files)),
		),
	)
	defer span.End()

	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	col, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}

	report := &UploadReport{Processed: []string{}, Skipped: []string{}, Errors: []string{}}
	for _, f := range files {
		if col.HasProcessed(f.Filename) {
			report.Skipped = append(report.Skipped, f.Filename)
			continue
		}
		if err := xlsx.ValidateUpload(f.Filename, f.Content); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		rows, err := s.Parser.Parse(bytes.NewReader(f.Content))
		if err != nil {
			report.Errors = append(report.Errors, "failed to parse "+f.Filename)
			continue
		}

		col.AllRows = schedule.Merge(col.AllRows, rows)
		col.MarkProcessed(f.Filename)
		report.Processed = append(report.Processed, f.Filename)
	}
	report.ActiveRows = len(schedule.FilterActive(col.AllRows))

	if err := s.save(ctx, owner, col); err != nil {
		return nil, err
	}
	return report, nil
}

// ActiveRows returns the active projection of the owner's collection plus
// the count of soft-deleted rows awaiting restore.
func (s *ScheduleService) ActiveRows(ctx context.Context, owner Owner) ([]schedule.StoredRow, int, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "ActiveRows",
		trace.WithAttributes(attribute.String("owner.user_id", owner.UserID)),
	)
	defer span.End()

	col, err := s.load(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	return schedule.FilterActive(col.AllRows), schedule.CountDeleted(col.AllRows), nil
}

// DeleteRows soft-deletes the rows whose ids appear in ids and returns how
// many flipped. Deleting the last active row resets the processed-files
// list so the same workbooks can be uploaded fresh.
func (s *ScheduleService) DeleteRows(ctx context.Context, owner Owner, ids []string) (int, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "DeleteRows",
		trace.WithAttributes(
			attribute.String("owner.user_id", owner.UserID),
			attribute.Int("rows.requested", len(ids)),
		),
	)
	defer span.End()

	col, err := s.load(ctx, owner)
	if err != nil {
		return 0, err
	}

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	rows, deleted := schedule.DeleteByIDs(col.AllRows, idSet)
	col.AllRows = rows
	if len(schedule.FilterActive(rows)) == 0 {
		col.ProcessedFiles = []string{}
	}

	if err := s.save(ctx, owner, col); err != nil {
		return 0, err
	}
	return deleted, nil
}

// RestoreRows reactivates every soft-deleted row whose business key does
// not collide with an active one, returning the restored count.
func (s *ScheduleService) RestoreRows(ctx context.Context, owner Owner) (int, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "RestoreRows",
		trace.WithAttributes(attribute.String("owner.user_id", owner.UserID)),
	)
	defer span.End()

	col, err := s.load(ctx, owner)
	if err != nil {
		return 0, err
	}

	rows, restored := schedule.RestoreAll(col.AllRows)
	col.AllRows = rows

	if err := s.save(ctx, owner, col); err != nil {
		return 0, err
	}
	return restored, nil
}

// Clear discards the owner's entire collection, rows and processed-files
// bookkeeping alike.
func (s *ScheduleService) Clear(ctx context.Context, owner Owner) error {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "Clear",
		trace.WithAttributes(attribute.String("owner.user_id", owner.UserID)),
	)
	defer span.End()

	return s.save(ctx, owner, schedule.NewCollection())
}

// ResetProcessed clears only the processed-files list, letting previously
// merged workbooks be uploaded again while keeping every row.
func (s *ScheduleService) ResetProcessed(ctx context.Context, owner Owner) error {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "ResetProcessed",
		trace.WithAttributes(attribute.String("owner.user_id", owner.UserID)),
	)
	defer span.End()

	col, err := s.load(ctx, owner)
	if err != nil {
		return err
	}
	col.ProcessedFiles = []string{}
	return s.save(ctx, owner, col)
}
