package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/api/middleware"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/embedding"
	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/integrations/faceapi"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

type stubProvider struct {
	vec embedding.Vector
	err error
}

func (p *stubProvider) ExtractEmbedding(context.Context, []byte) (embedding.Vector, error) {
	return p.vec, p.err
}

func (p *stubProvider) Ping(context.Context) bool { return true }

type memBackend struct {
	entries []gallery.Entry
}

func (b *memBackend) Load() ([]gallery.Entry, error) {
	out := make([]gallery.Entry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

func (b *memBackend) Insert(name string, vec embedding.Vector) error {
	for _, e := range b.entries {
		if e.Name == name {
			return gallery.ErrDuplicateName
		}
	}
	b.entries = append(b.entries, gallery.Entry{Name: name, Embedding: vec})
	return nil
}

func (b *memBackend) Delete(name string) error {
	for i, e := range b.entries {
		if e.Name == name {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return nil
		}
	}
	return gallery.ErrIdentityNotFound
}

func (b *memBackend) Rename(oldName, newName string) error {
	for i, e := range b.entries {
		if e.Name == oldName {
			b.entries[i].Name = newName
			return nil
		}
	}
	return gallery.ErrIdentityNotFound
}

type memLedger struct {
	records map[string][]ledger.Record
}

func (l *memLedger) Record(name string, now time.Time, _ []byte) (ledger.Outcome, error) {
	if l.records == nil {
		l.records = make(map[string][]ledger.Record)
	}
	date := now.Format(ledger.DateLayout)
	for _, r := range l.records[name] {
		if r.Date == date {
			return ledger.OutcomeAlreadyPresentToday, nil
		}
	}
	l.records[name] = append(l.records[name], ledger.Record{Name: name, Date: date, Timestamp: now})
	return ledger.OutcomeInserted, nil
}

func (l *memLedger) RecordsFor(name string) ([]ledger.Record, error) {
	return l.records[name], nil
}

// allowAll stands in for the session guard on routes where auth is not under
// test.
func allowAll(c *gin.Context) { c.Next() }

func errNoFace() error { return faceapi.ErrNoFaceDetected }

func testVec(first float64) embedding.Vector {
	v := make(embedding.Vector, embedding.Dimensions)
	v[0] = first
	return v
}

func newTestRouter(t *testing.T, provider *stubProvider, backend *memBackend, guard gin.HandlerFunc) (*gin.Engine, *memLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := gallery.NewStore(backend)
	if err != nil {
		t.Fatalf("failed to build gallery store: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.SnapshotDir = t.TempDir()
	cfg.Gallery.Backend = "files"
	cfg.Match.Tolerance = 0.6

	l := &memLedger{}
	service := attendance.NewService(provider, store, l, cfg.Match.Tolerance, nil, nil)
	handler := NewAPIHandler(cfg, service, store, l, provider, nil, nil)

	router := gin.New()
	router.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	handler.RegisterRoutes(router.Group("/api"), guard)
	return router, l
}

func recognizeJSON(t *testing.T, router *gin.Engine) (int, map[string]interface{}) {
	t.Helper()
	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))
	body, _ := json.Marshal(map[string]string{"image": image})

	req := httptest.NewRequest(http.MethodPost, "/api/recognize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v (%s)", err, w.Body.String())
	}
	return w.Code, resp
}

func TestRecognizeMatched(t *testing.T) {
	provider := &stubProvider{vec: testVec(0.1)}
	backend := &memBackend{entries: []gallery.Entry{{Name: "Alice", Embedding: testVec(0.1)}}}
	router, _ := newTestRouter(t, provider, backend, allowAll)

	code, resp := recognizeJSON(t, router)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["outcome"] != "matched" || resp["name"] != "Alice" {
		t.Errorf("unexpected response: %v", resp)
	}
	if resp["attendance"] != "recorded" {
		t.Errorf("expected attendance 'recorded', got %v", resp["attendance"])
	}
}

func TestRecognizeSecondScanSameDay(t *testing.T) {
	provider := &stubProvider{vec: testVec(0.1)}
	backend := &memBackend{entries: []gallery.Entry{{Name: "Alice", Embedding: testVec(0.1)}}}
	router, _ := newTestRouter(t, provider, backend, allowAll)

	recognizeJSON(t, router)
	_, resp := recognizeJSON(t, router)

	if resp["attendance"] != "already_present" {
		t.Errorf("expected attendance 'already_present', got %v", resp["attendance"])
	}
}

func TestRecognizeNoFace(t *testing.T) {
	provider := &stubProvider{err: errNoFace()}
	router, _ := newTestRouter(t, provider, &memBackend{}, allowAll)

	code, resp := recognizeJSON(t, router)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["outcome"] != "no_face" {
		t.Errorf("expected outcome 'no_face', got %v", resp["outcome"])
	}
	if resp["name"] != "Unknown (No face detected)" {
		t.Errorf("unexpected name: %v", resp["name"])
	}
}

func TestRecognizeNoMatch(t *testing.T) {
	// Probe far away from the only enrolled embedding.
	provider := &stubProvider{vec: testVec(5.0)}
	backend := &memBackend{entries: []gallery.Entry{{Name: "Alice", Embedding: testVec(0.1)}}}
	router, l := newTestRouter(t, provider, backend, allowAll)

	code, resp := recognizeJSON(t, router)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["outcome"] != "no_match" || resp["name"] != "Unknown" {
		t.Errorf("unexpected response: %v", resp)
	}
	if len(l.records) != 0 {
		t.Error("no-match recognition must not record attendance")
	}
}

func TestRecognizeMissingImage(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{vec: testVec(0.1)}, &memBackend{}, allowAll)

	req := httptest.NewRequest(http.MethodPost, "/api/recognize", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing image, got %d", w.Code)
	}
}

func TestStudentsRequireLogin(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{vec: testVec(0.1)}, &memBackend{}, middleware.RequireLoginAPI())

	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", w.Code)
	}
}

func enrollmentForm(t *testing.T, name string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	fw.Write([]byte("fake-jpeg"))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAddStudent(t *testing.T) {
	provider := &stubProvider{vec: testVec(0.3)}
	backend := &memBackend{}
	router, _ := newTestRouter(t, provider, backend, allowAll)

	body, contentType := enrollmentForm(t, "Carol")
	req := httptest.NewRequest(http.MethodPost, "/api/students", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if len(backend.entries) != 1 || backend.entries[0].Name != "Carol" {
		t.Errorf("student not enrolled: %v", backend.entries)
	}
}

func TestAddStudentDuplicate(t *testing.T) {
	provider := &stubProvider{vec: testVec(0.3)}
	backend := &memBackend{entries: []gallery.Entry{{Name: "Carol", Embedding: testVec(0.3)}}}
	router, _ := newTestRouter(t, provider, backend, allowAll)

	body, contentType := enrollmentForm(t, "Carol")
	req := httptest.NewRequest(http.MethodPost, "/api/students", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate name, got %d", w.Code)
	}
}

func TestAddStudentNoFace(t *testing.T) {
	provider := &stubProvider{err: errNoFace()}
	router, _ := newTestRouter(t, provider, &memBackend{}, allowAll)

	body, contentType := enrollmentForm(t, "Carol")
	req := httptest.NewRequest(http.MethodPost, "/api/students", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when no face is detected, got %d", w.Code)
	}
}

func TestRenameAndDeleteStudent(t *testing.T) {
	backend := &memBackend{entries: []gallery.Entry{{Name: "Alice", Embedding: testVec(0.1)}}}
	router, _ := newTestRouter(t, &stubProvider{vec: testVec(0.1)}, backend, allowAll)

	body := strings.NewReader(`{"new_name": "Alicia"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/students/Alice", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/students/Alicia", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/students/Alicia", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestGetAnalytics(t *testing.T) {
	backend := &memBackend{entries: []gallery.Entry{{Name: "Alice", Embedding: testVec(0.1)}}}
	router, l := newTestRouter(t, &stubProvider{vec: testVec(0.1)}, backend, allowAll)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	l.Record("Alice", now, nil)
	l.Record("Alice", now.Add(24*time.Hour), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/Alice", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		TotalDays int             `json:"total_days"`
		Records   []ledger.Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.TotalDays != 2 || len(resp.Records) != 2 {
		t.Errorf("expected 2 attended days, got %+v", resp)
	}
}

func TestListStudents(t *testing.T) {
	backend := &memBackend{entries: []gallery.Entry{
		{Name: "Alice", Embedding: testVec(0.1)},
		{Name: "Bob", Embedding: testVec(0.2)},
	}}
	router, _ := newTestRouter(t, &stubProvider{vec: testVec(0.1)}, backend, allowAll)

	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Students []string `json:"students"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(resp.Students) != 2 || resp.Students[0] != "Alice" || resp.Students[1] != "Bob" {
		t.Errorf("unexpected student list: %v", resp.Students)
	}
}
