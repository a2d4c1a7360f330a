// Package schedule implements the in-memory schedule engine: the canonical
// row shape that every workbook parser must produce, the derived business
// key used for deduplication, and the lifecycle operations (merge, delete,
// restore) over a soft-deleted row collection.
//
// The package is intentionally pure and dependency-light:
//
//   - No logging (callers decide how/what to log)
//   - No persistence; collections are plain values the repo layer serializes
//   - All operations return fresh slices and never mutate their input
//   - Deterministic behavior over well-formed rows (no data-shape errors)
//
// Row identity is the ten-field business key, not the opaque StoredRow ID:
// two rows with identical field values are "the same schedule entry" no
// matter where they were parsed from.
package schedule

// Row is one instructor-shift record in the canonical column order shared
// by every parser and exporter. Minutes stays a string end to end; the
// parser emits the textual form and the business key compares it verbatim.
type Row struct {
	Date       string `json:"date"`
	Shift      string `json:"shift"`
	Area       string `json:"area"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Code       string `json:"code"`
	Instructor string `json:"instructor"`
	Group      string `json:"group"`
	Minutes    string `json:"minutes"`
	Units      int    `json:"units"`
}

// RowKey is the deduplication identity of a Row: the ten canonical fields
// in fixed order. It is a comparable value type so it can key a map; the
// field order must never change, or previously persisted collections stop
// comparing equal across versions.
type RowKey struct {
	Date       string
	Shift      string
	Area       string
	StartTime  string
	EndTime    string
	Code       string
	Instructor string
	Group      string
	Minutes    string
	Units      int
}

// Key derives the business key for r. Pure and total: it never fails, and
// two rows with identical field values (including Units) produce equal keys
// regardless of object identity.
func Key(r Row) RowKey {
	return RowKey{
		Date:       r.Date,
		Shift:      r.Shift,
		Area:       r.Area,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Code:       r.Code,
		Instructor: r.Instructor,
		Group:      r.Group,
		Minutes:    r.Minutes,
		Units:      r.Units,
	}
}

// Status is the lifecycle state of a stored row.
type Status string

const (
	// StatusActive marks a row that is visible in projections and exports.
	StatusActive Status = "active"
	// StatusDeleted marks a soft-deleted row awaiting restore or clear.
	StatusDeleted Status = "deleted"
)

// StoredRow wraps a canonical Row with lifecycle metadata. The ID is
// generated once at merge time and never changes; only Status flips.
type StoredRow struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Data   Row    `json:"data"`
}

// Collection is the per-owner schedule state: the filenames already
// processed (file-level idempotence) and every row ever merged, active or
// deleted, in insertion order.
type Collection struct {
	ProcessedFiles []string    `json:"processed_files"`
	AllRows        []StoredRow `json:"all_rows"`
}

// NewCollection returns an empty schedule state.
func NewCollection() *Collection {
	return &Collection{ProcessedFiles: []string{}, AllRows: []StoredRow{}}
}

// HasProcessed reports whether filename was already merged into c.
func (c *Collection) HasProcessed(filename string) bool {
	for _, f := range c.ProcessedFiles {
		if f == filename {
			return true
		}
	}
	return false
}

// MarkProcessed records filename as merged. It is a no-op for names already
// present, keeping ProcessedFiles duplicate-free.
func (c *Collection) MarkProcessed(filename string) {
	if !c.HasProcessed(filename) {
		c.ProcessedFiles = append(c.ProcessedFiles, filename)
	}
}
