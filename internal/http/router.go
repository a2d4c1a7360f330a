// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting, and guest sessions.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/kronoshq/kronos-backend/internal/config"
	"github.com/kronoshq/kronos-backend/internal/domain"
	"github.com/kronoshq/kronos-backend/internal/http/handlers"
	"github.com/kronoshq/kronos-backend/internal/http/middleware"
	"github.com/kronoshq/kronos-backend/internal/repo"
	"github.com/kronoshq/kronos-backend/internal/schedule"
	"github.com/kronoshq/kronos-backend/internal/services"
	"github.com/kronoshq/kronos-backend/internal/session"
)

// scheduleRepoShim adapts the repository free functions to the
// services.ScheduleRepo interface expected by the ScheduleService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type scheduleRepoShim struct{}

// LoadSchedule proxies repo.LoadSchedule.
func (scheduleRepoShim) LoadSchedule(ctx context.Context, db *gorm.DB, userID string) (*schedule.Collection, error) {
	return repo.LoadSchedule(ctx, db, userID)
}

// SaveSchedule proxies repo.SaveSchedule.
func (scheduleRepoShim) SaveSchedule(ctx context.Context, db *gorm.DB, userID string, col *schedule.Collection) error {
	return repo.SaveSchedule(ctx, db, userID, col)
}

// zoomRepoShim adapts the repository free functions to the services.SyncRepo
// and services.AssignmentRepo interfaces.
type zoomRepoShim struct{}

// BulkUpsertUsers proxies repo.BulkUpsertUsers.
func (zoomRepoShim) BulkUpsertUsers(ctx context.Context, db *gorm.DB, users []domain.ZoomUserCache) error {
	return repo.BulkUpsertUsers(ctx, db, users)
}

// BulkUpsertMeetings proxies repo.BulkUpsertMeetings.
func (zoomRepoShim) BulkUpsertMeetings(ctx context.Context, db *gorm.DB, meetings []domain.ZoomMeetingCache) error {
	return repo.BulkUpsertMeetings(ctx, db, meetings)
}

// PruneStaleUsers proxies repo.PruneStaleUsers.
func (zoomRepoShim) PruneStaleUsers(ctx context.Context, db *gorm.DB, freshIDs []string) error {
	return repo.PruneStaleUsers(ctx, db, freshIDs)
}

// PruneStaleMeetings proxies repo.PruneStaleMeetings.
func (zoomRepoShim) PruneStaleMeetings(ctx context.Context, db *gorm.DB, freshIDs []string) error {
	return repo.PruneStaleMeetings(ctx, db, freshIDs)
}

// GetConfigValue proxies repo.GetConfigValue.
func (zoomRepoShim) GetConfigValue(ctx context.Context, db *gorm.DB, key string) (string, error) {
	return repo.GetConfigValue(ctx, db, key)
}

// SetConfigValue proxies repo.SetConfigValue.
func (zoomRepoShim) SetConfigValue(ctx context.Context, db *gorm.DB, key, value string) error {
	return repo.SetConfigValue(ctx, db, key, value)
}

// AllUsersByCanonicalKey proxies repo.AllUsersByCanonicalKey.
func (zoomRepoShim) AllUsersByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomUserCache, error) {
	return repo.AllUsersByCanonicalKey(ctx, db)
}

// AllMeetingsByCanonicalKey proxies repo.AllMeetingsByCanonicalKey.
func (zoomRepoShim) AllMeetingsByCanonicalKey(ctx context.Context, db *gorm.DB) (map[string]domain.ZoomMeetingCache, error) {
	return repo.AllMeetingsByCanonicalKey(ctx, db)
}

// UpdateMeetingHost proxies repo.UpdateMeetingHost.
func (zoomRepoShim) UpdateMeetingHost(ctx context.Context, db *gorm.DB, meetingID, newHostID string) error {
	return repo.UpdateMeetingHost(ctx, db, meetingID, newHostID)
}

// LogAssignment proxies repo.LogAssignment.
func (zoomRepoShim) LogAssignment(ctx context.Context, db *gorm.DB, entry domain.ZoomAssignmentHistory) error {
	return repo.LogAssignment(ctx, db, entry)
}

// CountAssignmentHistory proxies repo.CountAssignmentHistory.
func (zoomRepoShim) CountAssignmentHistory(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountAssignmentHistory(ctx, db)
}

// ListAssignmentHistory proxies repo.ListAssignmentHistory.
func (zoomRepoShim) ListAssignmentHistory(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ZoomAssignmentHistory, error) {
	return repo.ListAssignmentHistory(ctx, db, offset, limit)
}

// idempotencyShim adapts the idempotency repo functions to the
// handlers.IdempotencyStore interface.
type idempotencyShim struct{ db *gorm.DB }

func (s idempotencyShim) Get(ctx context.Context, ownerID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, ownerID, key, now)
}

func (s idempotencyShim) Put(ctx context.Context, ownerID, key string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, ownerID, key, status, ttl)
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, guest sessions, health and metrics
// endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (sized for workbook uploads)
//  6. Gzip response compression
//  7. Metrics
//  8. Session cookie (guest identity)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/session/IP, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, zoomAPI services.ZoomAPI, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-User-ID"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit: workbook uploads cap at 5 MiB each, allow
	//    a small multi-file batch.
	r.Use(limitBody(32 << 20))

	// 6) Compress JSON responses; exports benefit the most.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Guest session cookie (before idempotency so replays key correctly)
	r.Use(session.Middleware(session.CookieOptions{MaxAge: cfg.SessionTTL}))

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, ownerID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, ownerID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 10) Token-bucket rate limiter per user/session/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/zoom client
	sessions := session.NewStore(cfg.SessionTTL)
	schedSvc := services.NewScheduleService(db, scheduleRepoShim{}, sessions)

	syncSvc := services.NewSyncService(db, zoomRepoShim{}, zoomAPI)
	syncSvc.Interval = cfg.SyncInterval

	asgSvc := services.NewAssignmentService(db, zoomRepoShim{}, zoomAPI)
	if cfg.FuzzyThreshold > 0 {
		asgSvc.Threshold = cfg.FuzzyThreshold
	}

	h := handlers.New(schedSvc, syncSvc, asgSvc, idempotencyShim{db: db})

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Schedule
		api.POST("/schedule/uploads", h.UploadSchedules)
		api.GET("/schedule", h.GetSchedule)
		api.GET("/schedule/export.tsv", h.ExportTSV)
		api.GET("/schedule/export.xlsx", h.ExportXLSX)
		api.POST("/schedule/rows/delete", h.DeleteScheduleRows)
		api.POST("/schedule/rows/restore", h.RestoreScheduleRows)
		api.POST("/schedule/files/reset", h.ResetProcessedFiles)
		api.DELETE("/schedule", h.ClearSchedule)

		// Zoom
		api.POST("/zoom/sync", h.SyncZoom)
		api.GET("/zoom/sync/status", h.SyncStatus)
		api.POST("/zoom/assignments/classify", h.ClassifyAssignments)
		api.POST("/zoom/assignments/execute", h.ExecuteAssignments)
		api.GET("/zoom/assignments/history", h.AssignmentHistory)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
