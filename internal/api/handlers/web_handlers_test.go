package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"face-attendance-go/config"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func newWebRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	router.LoadHTMLGlob("../../../web/templates/*.html")
	NewWebHandler(cfg).RegisterRoutes(router)
	return router
}

func postLogin(router *gin.Engine, password string) *httptest.ResponseRecorder {
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginWrongPassword(t *testing.T) {
	cfg := &config.Config{}
	cfg.Admin.Password = "letmein"
	router := newWebRouter(t, cfg)

	if w := postLogin(router, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", w.Code)
	}
}

func TestLoginSuccessOpensSession(t *testing.T) {
	cfg := &config.Config{}
	cfg.Admin.Password = "letmein"
	router := newWebRouter(t, cfg)

	w := postLogin(router, "letmein")
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect after login, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("expected redirect to /dashboard, got %q", loc)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie after login")
	}

	// The session cookie unlocks the guarded dashboard.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 on dashboard with session, got %d", w.Code)
	}
}

func TestDashboardRedirectsWithoutSession(t *testing.T) {
	cfg := &config.Config{}
	cfg.Admin.Password = "letmein"
	router := newWebRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect without session, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/admin" {
		t.Errorf("expected redirect to /admin, got %q", loc)
	}
}

func TestLoginBcryptHashWinsOverPlaintext(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	cfg := &config.Config{}
	cfg.Admin.PasswordHash = string(hash)
	cfg.Admin.Password = "plaintext-fallback"
	router := newWebRouter(t, cfg)

	if w := postLogin(router, "hashed-secret"); w.Code != http.StatusFound {
		t.Errorf("expected login with hashed password to succeed, got %d", w.Code)
	}
	// The plaintext fallback must be inert once a hash is configured.
	if w := postLogin(router, "plaintext-fallback"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected plaintext fallback to be rejected, got %d", w.Code)
	}
}
