package handlers

import (
	"net/http"

	"face-attendance-go/config"
	"face-attendance-go/internal/api/middleware"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// WebHandler renders the HTML pages.
type WebHandler struct {
	cfg *config.Config
}

// NewWebHandler creates a new web handler.
func NewWebHandler(cfg *config.Config) *WebHandler {
	return &WebHandler{cfg: cfg}
}

// RegisterRoutes registers the page routes.
func (h *WebHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Index)
	router.GET("/admin", h.LoginPage)
	router.POST("/admin", h.Login)
	router.GET("/logout", h.Logout)
	router.GET("/dashboard", middleware.RequireLoginPage(), h.Dashboard)
	router.GET("/analytics/:name", h.AnalyticsPage)
}

// Index renders the capture page with the webcam widget.
func (h *WebHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Language": c.GetString("language"),
	})
}

// LoginPage renders the admin login form.
func (h *WebHandler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

// Login verifies the admin password and sets the session flag. A configured
// bcrypt hash wins over the plaintext development fallback.
func (h *WebHandler) Login(c *gin.Context) {
	password := c.PostForm("password")

	if !h.checkPassword(password) {
		log.Warnf("Failed admin login attempt from %s", c.ClientIP())
		c.HTML(http.StatusUnauthorized, "login.html", gin.H{
			"Error": "Incorrect password. Please try again.",
		})
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionLoggedInKey, true)
	if err := session.Save(); err != nil {
		log.WithError(err).Error("Failed to save session")
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{
			"Error": "Login failed, please try again.",
		})
		return
	}

	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *WebHandler) checkPassword(password string) bool {
	if h.cfg.Admin.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.cfg.Admin.PasswordHash), []byte(password)) == nil
	}
	return h.cfg.Admin.Password != "" && password == h.cfg.Admin.Password
}

// Logout clears the session and returns to the login page.
func (h *WebHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Delete(middleware.SessionLoggedInKey)
	session.Save()
	c.Redirect(http.StatusFound, "/admin")
}

// Dashboard renders the admin dashboard.
func (h *WebHandler) Dashboard(c *gin.Context) {
	c.HTML(http.StatusOK, "dashboard.html", gin.H{})
}

// AnalyticsPage renders the per-student attendance chart page; the data is
// fetched by the page from /api/analytics/:name.
func (h *WebHandler) AnalyticsPage(c *gin.Context) {
	c.HTML(http.StatusOK, "analytics.html", gin.H{
		"StudentName": c.Param("name"),
	})
}
