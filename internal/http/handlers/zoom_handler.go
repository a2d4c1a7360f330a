// Zoom HTTP handlers.
//
// This file exposes REST endpoints for the Zoom integration:
//   - POST /zoom/sync                    (refresh the local cache)
//   - GET  /zoom/sync/status             (cache freshness and sizes)
//   - POST /zoom/assignments/classify    (partition rows into update/ok/not-found)
//   - POST /zoom/assignments/execute     (reassign meeting hosts, audited)
//   - GET  /zoom/assignments/history     (paginated audit trail)
//
// Handlers are transport-thin:
//   - validate & normalize inputs
//   - delegate to application services (SyncService, AssignmentService)
//   - implement idempotency semantics for execution requests
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// execution exists for (owner, key), the handler skips re-running side effects
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/http/middleware"
	"github.com/kronoshq/kronos-backend/internal/services"
	"github.com/kronoshq/kronos-backend/internal/sysutil"
)

//
// Service contracts (context-aware)
//

// SyncService defines Zoom cache refresh operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SyncService interface {
	// Sync refreshes the local cache, unless a recent sync gates it.
	Sync(ctx context.Context, force bool) (*services.SyncStats, error)
	// Status reports the last sync time and cache sizes.
	Status(ctx context.Context) (*services.SyncStatus, error)
}

// AssignmentService defines classification and execution operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AssignmentService interface {
	// LoadCache takes one consistent snapshot of the Zoom cache.
	LoadCache(ctx context.Context) (*services.CacheSnapshot, error)
	// Classify partitions rows against the snapshot.
	Classify(snap *services.CacheSnapshot, rows []services.ClassifyRow) (*services.Classification, error)
	// ResolvePairs maps explicit meeting/instructor selections to cache entries.
	ResolvePairs(snap *services.CacheSnapshot, inputs []services.AssignmentInput) []services.Pair
	// Execute reassigns hosts with bounded concurrency and audits every attempt.
	Execute(ctx context.Context, actorID string, pairs []services.Pair) (*services.ExecReport, error)
	// History returns a page of the audit trail, newest first.
	History(ctx context.Context, page, pageSize int) ([]domain.ZoomAssignmentHistory, int64, error)
}

// IdempotencyStore records and replays execution outcomes keyed by
// (owner, Idempotency-Key). A nil store disables replay semantics.
type IdempotencyStore interface {
	// Get returns the non-expired record for (ownerID, key), or an error
	// when none exists.
	Get(ctx context.Context, ownerID, key string, now time.Time) (*domain.Idempotency, error)
	// Put records a completed execution under (ownerID, key) for ttl.
	Put(ctx context.Context, ownerID, key string, status int, ttl time.Duration) error
}

//
// DTOs
//

// SyncRequest optionally forces a refresh past the sync-interval gate.
type SyncRequest struct {
	Force bool `json:"force"`
}

// ClassifyRequest carries the rows to classify. When empty, the handler
// classifies the owner's current active schedule instead.
type ClassifyRequest struct {
	Rows []services.ClassifyRow `json:"rows"`
}

// ExecuteRequest selects the reassignments to run.
type ExecuteRequest struct {
	Assignments []services.AssignmentInput `json:"assignments" binding:"required,min=1"`
}

// HistoryResponse contains a page of audit entries and pagination metadata.
type HistoryResponse struct {
	History    []domain.ZoomAssignmentHistory `json:"history"`
	Pagination Pagination                     `json:"pagination"`
}

//
// Handlers
//

// SyncZoom refreshes the local Zoom cache. A sync within the configured
// interval is skipped unless force is set; the response reports whether the
// gate applied.
func (h *Handlers) SyncZoom(c *gin.Context) {
	var req SyncRequest
	// Body is optional; ?force=true works too.
	_ = c.ShouldBindJSON(&req)
	force := req.Force || sysutil.IsTruthy(c.Query("force"))

	stats, err := h.syncSvc.Sync(c.Request.Context(), force)
	if err != nil {
		if errors.Is(err, services.ErrZoomAuth) {
			fail(c, http.StatusBadGateway, ErrCodeZoomAuth, err.Error())
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// SyncStatus reports when the cache was last refreshed and how much it holds.
func (h *Handlers) SyncStatus(c *gin.Context) {
	status, err := h.syncSvc.Status(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, status)
}

// ClassifyAssignments partitions rows into to-update / ok / not-found against
// the cached Zoom data. When the request carries no rows, the owner's current
// active schedule is classified instead.
func (h *Handlers) ClassifyAssignments(c *gin.Context) {
	ctx := c.Request.Context()

	var req ClassifyRequest
	_ = c.ShouldBindJSON(&req)

	rows := req.Rows
	if len(rows) == 0 {
		stored, _, err := h.schedSvc.ActiveRows(ctx, owner(c))
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
		for _, r := range stored {
			rows = append(rows, services.ClassifyRow{Group: r.Data.Group, Instructor: r.Data.Instructor})
		}
	}

	snap, err := h.asgSvc.LoadCache(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeClassifyFailed, err.Error())
		return
	}

	result, err := h.asgSvc.Classify(snap, rows)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoRows):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no rows to classify")
		case errors.Is(err, services.ErrCacheEmpty):
			fail(c, http.StatusConflict, ErrCodeCacheEmpty, "zoom cache is empty, run a sync first")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeClassifyFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, result)
}

// ExecuteAssignments reassigns meeting hosts for the selected pairs. Every
// attempt lands in the audit trail; partial failures do not abort the batch.
// Supports idempotency via the Idempotency-Key header (a replayed key skips
// re-execution).
func (h *Handlers) ExecuteAssignments(c *gin.Context) {
	ctx := c.Request.Context()

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "assignments required")
		return
	}

	actor := owner(c)
	actorID := actor.UserID
	if actorID == "" {
		actorID = actor.SessionID
	}

	// Idempotency (replay path): read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idemStore != nil {
		if rec, err := h.idemStore.Get(ctx, actorID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, rec.Status, gin.H{"replayed": true})
			return
		}
	}

	snap, err := h.asgSvc.LoadCache(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExecuteFailed, err.Error())
		return
	}
	if snap.Empty() {
		fail(c, http.StatusConflict, ErrCodeCacheEmpty, "zoom cache is empty, run a sync first")
		return
	}

	pairs := h.asgSvc.ResolvePairs(snap, req.Assignments)
	report, err := h.asgSvc.Execute(ctx, actorID, pairs)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoAssignments):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no valid assignments to execute")
		case errors.Is(err, services.ErrZoomAuth):
			fail(c, http.StatusBadGateway, ErrCodeZoomAuth, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeExecuteFailed, err.Error())
		}
		return
	}

	// Idempotency (store path): best effort.
	if idemKey != "" && h.idemStore != nil {
		_ = h.idemStore.Put(ctx, actorID, idemKey, http.StatusOK, 24*time.Hour)
	}

	ok(c, http.StatusOK, report)
}

// AssignmentHistory returns a page of the reassignment audit trail, newest
// entries first.
func (h *Handlers) AssignmentHistory(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.asgSvc.History(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, HistoryResponse{
		History: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
