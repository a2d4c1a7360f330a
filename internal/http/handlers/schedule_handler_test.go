package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kronoshq/kronos-backend/internal/schedule"
	"github.com/kronoshq/kronos-backend/internal/services"
)

// ---------- flexible service stubs ----------

// stubSchedSvc implements ScheduleService with overridable function fields.
type stubSchedSvc struct {
	process  func(context.Context, services.Owner, []services.Upload) (*services.UploadReport, error)
	active   func(context.Context, services.Owner) ([]schedule.StoredRow, int, error)
	del      func(context.Context, services.Owner, []string) (int, error)
	restore  func(context.Context, services.Owner) (int, error)
	clear    func(context.Context, services.Owner) error
	resetPrc func(context.Context, services.Owner) error
}

func (s stubSchedSvc) ProcessUploads(ctx context.Context, o services.Owner, files []services.Upload) (*services.UploadReport, error) {
	if s.process != nil {
		return s.process(ctx, o, files)
	}
	return &services.UploadReport{}, nil
}

func (s stubSchedSvc) ActiveRows(ctx context.Context, o services.Owner) ([]schedule.StoredRow, int, error) {
	if s.active != nil {
		return s.active(ctx, o)
	}
	return nil, 0, nil
}

func (s stubSchedSvc) DeleteRows(ctx context.Context, o services.Owner, ids []string) (int, error) {
	if s.del != nil {
		return s.del(ctx, o, ids)
	}
	return 0, nil
}

func (s stubSchedSvc) RestoreRows(ctx context.Context, o services.Owner) (int, error) {
	if s.restore != nil {
		return s.restore(ctx, o)
	}
	return 0, nil
}

func (s stubSchedSvc) Clear(ctx context.Context, o services.Owner) error {
	if s.clear != nil {
		return s.clear(ctx, o)
	}
	return nil
}

func (s stubSchedSvc) ResetProcessed(ctx context.Context, o services.Owner) error {
	if s.resetPrc != nil {
		return s.resetPrc(ctx, o)
	}
	return nil
}

// newScheduleRouter mounts the schedule routes with the given stub and inert
// zoom stubs.
func newScheduleRouter(sched ScheduleService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(sched, stubSyncSvc{}, stubAsgSvc{}, nil)
	r.POST("/schedule/uploads", h.UploadSchedules)
	r.GET("/schedule", h.GetSchedule)
	r.GET("/schedule/export.tsv", h.ExportTSV)
	r.GET("/schedule/export.xlsx", h.ExportXLSX)
	r.POST("/schedule/rows/delete", h.DeleteScheduleRows)
	r.POST("/schedule/rows/restore", h.RestoreScheduleRows)
	r.POST("/schedule/files/reset", h.ResetProcessedFiles)
	r.DELETE("/schedule", h.ClearSchedule)
	return r
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func sampleStored() []schedule.StoredRow {
	return []schedule.StoredRow{
		{ID: "r1", Status: schedule.StatusActive, Data: schedule.Row{
			Date: "05/08/2026", Shift: "AM", Area: "ADULTS", StartTime: "08:00", EndTime: "09:30",
			Code: "A1", Instructor: "Alice", Group: "G1", Minutes: "90", Units: 3,
		}},
	}
}

// ---------- owner() ----------

func TestOwner_HeaderContextAndSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	// Nothing set → guest with empty session
	o := owner(c)
	if o.Authenticated() || o.SessionID != "" {
		t.Fatalf("expected anonymous owner, got %+v", o)
	}

	// Session id from middleware
	c.Set("session_id", "sess-1")
	o = owner(c)
	if o.Authenticated() || o.SessionID != "sess-1" {
		t.Fatalf("expected guest session owner, got %+v", o)
	}

	// Header fallback
	c.Request.Header.Set("X-User-ID", "u-h")
	o = owner(c)
	if o.UserID != "u-h" || o.SessionID != "sess-1" {
		t.Fatalf("expected header user, got %+v", o)
	}

	// Context beats header
	c.Set("userID", "u-ctx")
	if o := owner(c); o.UserID != "u-ctx" {
		t.Fatalf("expected context user, got %+v", o)
	}
}

// ---------- uploads ----------

func TestUploadSchedules_NoMultipart(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/uploads", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadSchedules_NoFilesField(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{})
	body, ctype := multipartBody(t, "other", map[string][]byte{"a.xlsx": []byte("x")})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/uploads", body)
	req.Header.Set("Content-Type", ctype)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadSchedules_PassesFilesToService(t *testing.T) {
	var got []services.Upload
	var gotOwner services.Owner
	r := newScheduleRouter(stubSchedSvc{
		process: func(_ context.Context, o services.Owner, files []services.Upload) (*services.UploadReport, error) {
			got = files
			gotOwner = o
			return &services.UploadReport{Processed: []string{"a.xlsx"}, ActiveRows: 2}, nil
		},
	})

	body, ctype := multipartBody(t, "files", map[string][]byte{"a.xlsx": []byte("content-a")})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/uploads", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(got) != 1 || got[0].Filename != "a.xlsx" || string(got[0].Content) != "content-a" {
		t.Fatalf("service did not receive upload: %+v", got)
	}
	if gotOwner.UserID != "u1" {
		t.Fatalf("owner not propagated: %+v", gotOwner)
	}
	var rep services.UploadReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if rep.ActiveRows != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestUploadSchedules_ErrNoFiles(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{
		process: func(context.Context, services.Owner, []services.Upload) (*services.UploadReport, error) {
			return nil, services.ErrNoFiles
		},
	})
	body, ctype := multipartBody(t, "files", map[string][]byte{"a.xlsx": []byte("x")})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/uploads", body)
	req.Header.Set("Content-Type", ctype)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ---------- schedule view ----------

func TestGetSchedule_CountsAndRows(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{
		active: func(context.Context, services.Owner) ([]schedule.StoredRow, int, error) {
			return sampleStored(), 2, nil
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedule", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ScheduleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Rows) != 1 || resp.DeletedCount != 2 || resp.Total != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// ---------- exports ----------

func TestExportTSV_BodyAndHeaders(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{
		active: func(context.Context, services.Owner) ([]schedule.StoredRow, int, error) {
			return sampleStored(), 0, nil
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedule/export.tsv", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := "05/08/2026\tAM\tADULTS\t08:00\t09:30\tA1\tAlice\tG1\t90\t3\n"
	if w.Body.String() != want {
		t.Fatalf("tsv mismatch: %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="schedule.tsv"` {
		t.Fatalf("content disposition: %q", cd)
	}
}

func TestExportXLSX_SignatureAndHeaders(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{
		active: func(context.Context, services.Owner) ([]schedule.StoredRow, int, error) {
			return sampleStored(), 0, nil
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedule/export.xlsx", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.Bytes()
	if len(body) < 4 || !bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		t.Fatalf("expected zip signature, got %v", body[:min(4, len(body))])
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type: %q", ct)
	}
}

// ---------- lifecycle mutations ----------

func TestDeleteScheduleRows_Validation(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/rows/delete", bytes.NewBufferString(`{"ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", w.Code)
	}
}

func TestDeleteScheduleRows_OK(t *testing.T) {
	var gotIDs []string
	r := newScheduleRouter(stubSchedSvc{
		del: func(_ context.Context, _ services.Owner, ids []string) (int, error) {
			gotIDs = ids
			return 2, nil
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/rows/delete", bytes.NewBufferString(`{"ids":["r1","r2"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(gotIDs) != 2 || gotIDs[0] != "r1" {
		t.Fatalf("ids not propagated: %v", gotIDs)
	}
	var resp DeleteRowsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Deleted != 2 {
		t.Fatalf("unexpected response: %+v err=%v", resp, err)
	}
}

func TestRestoreScheduleRows_OK(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{
		restore: func(context.Context, services.Owner) (int, error) { return 3, nil },
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/rows/restore", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp RestoreRowsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Restored != 3 {
		t.Fatalf("unexpected response: %+v err=%v", resp, err)
	}
}

func TestResetProcessedFiles_NoContent(t *testing.T) {
	called := false
	r := newScheduleRouter(stubSchedSvc{
		resetPrc: func(context.Context, services.Owner) error { called = true; return nil },
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule/files/reset", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || !called {
		t.Fatalf("expected 204 and service call, got %d called=%v", w.Code, called)
	}
}

func TestClearSchedule_NoContent(t *testing.T) {
	r := newScheduleRouter(stubSchedSvc{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/schedule", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}
