// Schedule HTTP handlers.
//
// This file exposes REST endpoints for the schedule resource:
//   - POST   /schedule/uploads       (merge one or more workbooks)
//   - GET    /schedule               (active rows + lifecycle counters)
//   - GET    /schedule/export.tsv    (tab-separated export, no header)
//   - GET    /schedule/export.xlsx   (workbook export)
//   - POST   /schedule/rows/delete   (soft-delete selected rows)
//   - POST   /schedule/rows/restore  (restore every soft-deleted row)
//   - POST   /schedule/files/reset   (forget processed filenames)
//   - DELETE /schedule               (wipe the whole collection)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kronoshq/kronos-backend/internal/schedule"
	"github.com/kronoshq/kronos-backend/internal/services"
	"github.com/kronoshq/kronos-backend/internal/session"
	"github.com/kronoshq/kronos-backend/internal/utils"
	"github.com/kronoshq/kronos-backend/internal/xlsx"
)

//
// Service contracts (context-aware)
//

// ScheduleService defines schedule lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ScheduleService interface {
	// ProcessUploads validates, parses, and merges uploaded workbooks.
	ProcessUploads(ctx context.Context, owner services.Owner, files []services.Upload) (*services.UploadReport, error)
	// ActiveRows returns the visible rows and the soft-deleted count.
	ActiveRows(ctx context.Context, owner services.Owner) ([]schedule.StoredRow, int, error)
	// DeleteRows soft-deletes the rows with the given IDs.
	DeleteRows(ctx context.Context, owner services.Owner, ids []string) (int, error)
	// RestoreRows reactivates every soft-deleted row.
	RestoreRows(ctx context.Context, owner services.Owner) (int, error)
	// Clear replaces the owner's collection with an empty one.
	Clear(ctx context.Context, owner services.Owner) error
	// ResetProcessed forgets the processed-file list, keeping rows.
	ResetProcessed(ctx context.Context, owner services.Owner) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for schedules, Zoom sync, and assignments.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	schedSvc  ScheduleService
	syncSvc   SyncService
	asgSvc    AssignmentService
	idemStore IdempotencyStore
}

// New constructs and returns a Handlers instance bound to the given services.
// idemStore may be nil, which disables execution replay semantics.
func New(schedSvc ScheduleService, syncSvc SyncService, asgSvc AssignmentService, idemStore IdempotencyStore) *Handlers {
	return &Handlers{schedSvc: schedSvc, syncSvc: syncSvc, asgSvc: asgSvc, idemStore: idemStore}
}

// owner derives the request owner: the authenticated user id from Gin context
// (set by upstream middleware) or the "X-User-ID" header, plus the guest
// session id issued by the session middleware. Authenticated requests persist
// to the database; guest requests live in the TTL session store.
func owner(c *gin.Context) services.Owner {
	o := services.Owner{SessionID: session.ID(c)}
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			o.UserID = s
			return o
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			o.UserID = h
		}
	}
	return o
}

//
// DTOs
//

// ScheduleResponse is the JSON envelope for the current schedule view.
type ScheduleResponse struct {
	Rows         []schedule.StoredRow `json:"rows"`
	DeletedCount int                  `json:"deleted_count"`
	Total        int                  `json:"total"`
}

// DeleteRowsRequest selects rows to soft-delete by stored-row ID.
type DeleteRowsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// DeleteRowsResponse reports how many rows the delete touched.
type DeleteRowsResponse struct {
	Deleted int `json:"deleted"`
}

// RestoreRowsResponse reports how many rows were reactivated.
type RestoreRowsResponse struct {
	Restored int `json:"restored"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// activeData projects the canonical rows out of stored rows for exports.
func activeData(rows []schedule.StoredRow) []schedule.Row {
	out := make([]schedule.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Data)
	}
	return out
}

//
// Handlers
//

// UploadSchedules accepts a multipart form with one or more workbook files
// under the "files" field, merges each into the owner's schedule, and returns
// a per-file report. Files that fail validation or parsing are reported and
// skipped; the batch never aborts early. Re-uploading an already processed
// filename is a no-op recorded under "skipped".
func (h *Handlers) UploadSchedules(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart form required")
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no files uploaded")
		return
	}

	uploads := make([]services.Upload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file: "+fh.Filename)
			return
		}
		content, err := io.ReadAll(io.LimitReader(f, xlsx.MaxUploadSize+1))
		_ = f.Close()
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file: "+fh.Filename)
			return
		}
		uploads = append(uploads, services.Upload{Filename: fh.Filename, Content: content})
	}

	report, err := h.schedSvc.ProcessUploads(c.Request.Context(), owner(c), uploads)
	if err != nil {
		if errors.Is(err, services.ErrNoFiles) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no files uploaded")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

// GetSchedule returns the owner's active rows plus lifecycle counters.
func (h *Handlers) GetSchedule(c *gin.Context) {
	rows, deleted, err := h.schedSvc.ActiveRows(c.Request.Context(), owner(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ScheduleResponse{
		Rows:         rows,
		DeletedCount: deleted,
		Total:        len(rows) + deleted,
	})
}

// ExportTSV streams the active rows as a tab-separated download without a
// header line. Cells beginning with formula characters are prefixed with an
// apostrophe so spreadsheet software treats them as text.
func (h *Handlers) ExportTSV(c *gin.Context) {
	rows, _, err := h.schedSvc.ActiveRows(c.Request.Context(), owner(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExportFailed, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := xlsx.WriteTSV(&buf, activeData(rows)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExportFailed, err.Error())
		return
	}
	c.Header("Content-Disposition", `attachment; filename="schedule.tsv"`)
	c.Data(http.StatusOK, "text/tab-separated-values; charset=utf-8", buf.Bytes())
}

// ExportXLSX streams the active rows as a workbook download with the
// canonical header row.
func (h *Handlers) ExportXLSX(c *gin.Context) {
	rows, _, err := h.schedSvc.ActiveRows(c.Request.Context(), owner(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExportFailed, err.Error())
		return
	}
	content, err := xlsx.WriteWorkbook(activeData(rows))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExportFailed, err.Error())
		return
	}
	c.Header("Content-Disposition", `attachment; filename="schedule.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}

// DeleteScheduleRows soft-deletes the rows selected by ID. Unknown IDs are
// ignored; deleting the last active row also resets the processed-file list
// so the same workbooks can be re-uploaded.
func (h *Handlers) DeleteScheduleRows(c *gin.Context) {
	var req DeleteRowsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids required")
		return
	}
	n, err := h.schedSvc.DeleteRows(c.Request.Context(), owner(c), req.IDs)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, DeleteRowsResponse{Deleted: n})
}

// RestoreScheduleRows reactivates every soft-deleted row that does not
// collide with an active row's business key.
func (h *Handlers) RestoreScheduleRows(c *gin.Context) {
	n, err := h.schedSvc.RestoreRows(c.Request.Context(), owner(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, RestoreRowsResponse{Restored: n})
}

// ResetProcessedFiles forgets the processed-filename list while keeping all
// rows, allowing previously merged workbooks to be uploaded again.
func (h *Handlers) ResetProcessedFiles(c *gin.Context) {
	if err := h.schedSvc.ResetProcessed(c.Request.Context(), owner(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ClearSchedule wipes the owner's collection: rows, deleted rows, and the
// processed-file list.
func (h *Handlers) ClearSchedule(c *gin.Context) {
	if err := h.schedSvc.Clear(c.Request.Context(), owner(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
