package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/schedule"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func sampleCollection() *schedule.Collection {
	col := schedule.NewCollection()
	col.ProcessedFiles = []string{"week1.xlsx"}
	col.AllRows = []schedule.StoredRow{
		{
			ID:     "r1",
			Status: schedule.StatusActive,
			Data: schedule.Row{
				Instructor: "Alice Smith",
				Group:      "G1",
				Shift:      "AM",
				Date:       "05/08/2026",
				StartTime:  "10:00",
				Minutes:    "60",
				Units:      2,
			},
		},
		{
			ID:     "r2",
			Status: schedule.StatusDeleted,
			Data:   schedule.Row{Instructor: "Bob Jones", Group: "G2", Date: "06/08/2026"},
		},
	}
	return col
}

func TestLoadSchedule_NotFound(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})

	col, err := LoadSchedule(context.Background(), db, "nobody")
	if col != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got col=%v err=%v", col, err)
	}
}

func TestSaveSchedule_NilCollection(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})

	if err := SaveSchedule(context.Background(), db, "u1", nil); err == nil {
		t.Fatal("expected error saving nil collection")
	}
}

func TestSaveLoadSchedule_RoundTrip(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})
	ctx := context.Background()
	want := sampleCollection()

	if err := SaveSchedule(ctx, db, "u1", want); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	got, err := LoadSchedule(ctx, db, "u1")
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	if len(got.ProcessedFiles) != 1 || got.ProcessedFiles[0] != "week1.xlsx" {
		t.Fatalf("unexpected ProcessedFiles: %v", got.ProcessedFiles)
	}
	if len(got.AllRows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got.AllRows))
	}
	if got.AllRows[0].ID != "r1" || got.AllRows[0].Status != schedule.StatusActive {
		t.Fatalf("row 0 mismatch: %+v", got.AllRows[0])
	}
	if got.AllRows[0].Data.Minutes != "60" || got.AllRows[0].Data.Units != 2 {
		t.Fatalf("row 0 data mismatch: %+v", got.AllRows[0].Data)
	}
	if got.AllRows[1].Status != schedule.StatusDeleted {
		t.Fatalf("row 1 should stay deleted: %+v", got.AllRows[1])
	}
}

func TestSaveSchedule_ReplacesWholeDocument(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})
	ctx := context.Background()

	if err := SaveSchedule(ctx, db, "u1", sampleCollection()); err != nil {
		t.Fatalf("first save: %v", err)
	}

	next := schedule.NewCollection()
	next.ProcessedFiles = []string{"week2.xlsx"}
	if err := SaveSchedule(ctx, db, "u1", next); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := LoadSchedule(ctx, db, "u1")
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	if len(got.AllRows) != 0 {
		t.Fatalf("expected old rows replaced, got %d rows", len(got.AllRows))
	}
	if len(got.ProcessedFiles) != 1 || got.ProcessedFiles[0] != "week2.xlsx" {
		t.Fatalf("unexpected ProcessedFiles after replace: %v", got.ProcessedFiles)
	}

	// Only one record per user despite two saves.
	var count int64
	if err := db.Model(&domain.UserSchedule{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
}

func TestSaveSchedule_IsolatedPerUser(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})
	ctx := context.Background()

	if err := SaveSchedule(ctx, db, "u1", sampleCollection()); err != nil {
		t.Fatalf("save u1: %v", err)
	}
	if err := SaveSchedule(ctx, db, "u2", schedule.NewCollection()); err != nil {
		t.Fatalf("save u2: %v", err)
	}

	got, err := LoadSchedule(ctx, db, "u2")
	if err != nil {
		t.Fatalf("LoadSchedule u2: %v", err)
	}
	if len(got.AllRows) != 0 || len(got.ProcessedFiles) != 0 {
		t.Fatalf("u2 schedule leaked data: %+v", got)
	}
}

func TestLoadSchedule_CorruptJSON(t *testing.T) {
	db := newRepoDB(t, &domain.UserSchedule{})

	rec := domain.UserSchedule{UserID: "u1", Data: "{not json", UpdatedAt: time.Now().UTC()}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := LoadSchedule(context.Background(), db, "u1"); err == nil {
		t.Fatal("expected decode error for corrupt document")
	}
}
