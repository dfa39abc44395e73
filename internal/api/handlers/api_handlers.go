package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/integrations/faceapi"
	"face-attendance-go/internal/sse"
	"face-attendance-go/internal/util/timezone"
	"face-attendance-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxImageSize caps uploaded probe/enrollment images.
const maxImageSize = 10 << 20 // 10 MB

// StatsSource provides aggregate attendance statistics. Only the database
// backend implements it; with the file backend it stays nil.
type StatsSource interface {
	GetStatistics(today string) (models.Statistics, error)
}

// APIHandler handles the JSON API.
type APIHandler struct {
	cfg      *config.Config
	service  *attendance.Service
	gallery  *gallery.Store
	ledger   ledger.Ledger
	provider faceapi.Provider
	hub      *sse.Hub
	stats    StatsSource
}

// NewAPIHandler creates a new API handler with its dependencies. stats may be
// nil when the persistence variant has no aggregate queries.
func NewAPIHandler(cfg *config.Config, service *attendance.Service, store *gallery.Store, l ledger.Ledger, provider faceapi.Provider, hub *sse.Hub, stats StatsSource) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		service:  service,
		gallery:  store,
		ledger:   l,
		provider: provider,
		hub:      hub,
		stats:    stats,
	}
}

// RegisterRoutes registers all API routes. loginRequired guards the student
// management endpoints.
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup, loginRequired gin.HandlerFunc) {
	router.POST("/recognize", h.Recognize)

	router.GET("/analytics/:name", h.GetAnalytics)
	router.GET("/status", h.GetStatus)
	router.GET("/events", h.Events)

	students := router.Group("/students", loginRequired)
	students.GET("", h.ListStudents)
	students.POST("", h.AddStudent)
	students.PUT("/:name", h.RenameStudent)
	students.DELETE("/:name", h.DeleteStudent)
}

// recognizeRequest is the JSON body variant: a base64 data URL as captured
// from a canvas element.
type recognizeRequest struct {
	Image string `json:"image"`
}

// Recognize handles a webcam frame: multipart upload under "file" or a JSON
// body with a base64 data URL under "image".
func (h *APIHandler) Recognize(c *gin.Context) {
	imageData, err := readProbeImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, _ := json.Marshal(map[string]string{
		"remote_addr": c.ClientIP(),
		"user_agent":  c.Request.UserAgent(),
	})

	result, err := h.service.Recognize(c.Request.Context(), imageData, source)
	if err != nil {
		log.WithError(err).Error("Recognition failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recognition failed"})
		return
	}

	switch result.Outcome {
	case attendance.OutcomeNoFace:
		c.JSON(http.StatusOK, gin.H{
			"outcome": result.Outcome,
			"name":    translate(c, "recognize.no_face", "Unknown (No face detected)"),
		})
	case attendance.OutcomeNoMatch:
		c.JSON(http.StatusOK, gin.H{
			"outcome": result.Outcome,
			"name":    translate(c, "recognize.unknown", "Unknown"),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"outcome":    result.Outcome,
			"name":       result.Name,
			"distance":   result.Distance,
			"attendance": result.Ledger.String(),
		})
	}
}

// readProbeImage extracts the image bytes from either request variant.
func readProbeImage(c *gin.Context) ([]byte, error) {
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("no file uploaded or invalid form data")
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file")
		}
		if len(data) > maxImageSize {
			return nil, fmt.Errorf("image exceeds the %d byte limit", maxImageSize)
		}
		return data, nil
	}

	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Image == "" {
		return nil, fmt.Errorf("no image data provided")
	}

	// Accept "data:image/jpeg;base64,..." as sent by canvas.toDataURL.
	payload := req.Image
	if idx := strings.Index(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data")
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image exceeds the %d byte limit", maxImageSize)
	}
	return data, nil
}

// ListStudents returns the enrolled student names in gallery order.
func (h *APIHandler) ListStudents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"students": h.gallery.Snapshot().Names()})
}

// AddStudent enrolls a new student from a multipart form with "name" and
// "file". Duplicate names are rejected; the uploaded image must contain a
// detectable face.
func (h *APIHandler) AddStudent(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enrollment image is required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil || len(imageData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read enrollment image"})
		return
	}
	if len(imageData) > maxImageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enrollment image too large"})
		return
	}

	if err := h.service.Enroll(c.Request.Context(), name, imageData); err != nil {
		switch {
		case errors.Is(err, faceapi.ErrNoFaceDetected):
			c.JSON(http.StatusBadRequest, gin.H{"error": translate(c, "enroll.no_face", "No face found in the uploaded image")})
		case errors.Is(err, gallery.ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("student '%s' is already enrolled", name)})
		default:
			log.WithError(err).Errorf("Failed to enroll student '%s'", name)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment failed"})
		}
		return
	}

	// Keep the enrollment image for reference next to the snapshots.
	h.saveEnrollmentImage(name, header.Filename, imageData)

	c.JSON(http.StatusOK, gin.H{"success": fmt.Sprintf("Student '%s' added successfully.", name)})
}

func (h *APIHandler) saveEnrollmentImage(name, originalName string, data []byte) {
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".jpg"
	}
	filename := strings.ReplaceAll(name, " ", "_") + ext
	path := filepath.Join(h.cfg.Server.SnapshotDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.WithError(err).Warnf("Failed to save enrollment image for '%s'", name)
	}
}

// renameRequest is the body of a rename call.
type renameRequest struct {
	NewName string `json:"new_name"`
}

// RenameStudent changes a student's display name. The reference embedding
// and any database-backed attendance history stay attached to the student.
func (h *APIHandler) RenameStudent(c *gin.Context) {
	oldName := c.Param("name")

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.NewName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_name is required"})
		return
	}

	if err := h.gallery.Rename(oldName, strings.TrimSpace(req.NewName)); err != nil {
		switch {
		case errors.Is(err, gallery.ErrIdentityNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		case errors.Is(err, gallery.ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{"error": "a student with the new name already exists"})
		default:
			log.WithError(err).Errorf("Failed to rename student '%s'", oldName)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rename failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": fmt.Sprintf("Renamed '%s' to '%s'.", oldName, req.NewName)})
}

// DeleteStudent removes a student from the gallery.
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	name := c.Param("name")

	if err := h.gallery.Remove(name); err != nil {
		if errors.Is(err, gallery.ErrIdentityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		log.WithError(err).Errorf("Failed to delete student '%s'", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": fmt.Sprintf("Student '%s' deleted.", name)})
}

// GetAnalytics returns the attendance history of one student: the number of
// attended days plus the per-day records, sorted by date.
func (h *APIHandler) GetAnalytics(c *gin.Context) {
	name := c.Param("name")

	records, err := h.ledger.RecordsFor(name)
	if err != nil {
		log.WithError(err).Errorf("Failed to load analytics for '%s'", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance data"})
		return
	}

	if records == nil {
		records = []ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_days": len(records),
		"records":    records,
	})
}

// GetStatus returns service health and system statistics. With the database
// backend the response additionally carries aggregate attendance numbers.
func (h *APIHandler) GetStatus(c *gin.Context) {
	resp := gin.H{
		"status":            "ok",
		"backend":           h.cfg.Gallery.Backend,
		"enrolled_students": h.gallery.Snapshot().Len(),
		"tolerance":         h.cfg.Match.Tolerance,
		"faceapi_available": h.provider.Ping(c.Request.Context()),
		"system":            utils.GetSystemStats(),
	}

	if h.stats != nil {
		today := timezone.Now().Format(ledger.DateLayout)
		if stats, err := h.stats.GetStatistics(today); err != nil {
			log.WithError(err).Warn("Failed to load attendance statistics")
		} else {
			resp["statistics"] = stats
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Events streams recognition results to dashboards via SSE.
func (h *APIHandler) Events(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 8)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("checkin", string(msg))
			return true
		case <-c.Request.Context().Done():
			return false
		case <-time.After(30 * time.Second):
			// Keep-alive comment so proxies do not drop the connection.
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// translate resolves a user-facing string via the i18n middleware, falling
// back to the given default when no translator is installed.
func translate(c *gin.Context, key, fallback string) string {
	if tVal, ok := c.Get("t"); ok {
		if t, ok := tVal.(func(string, ...interface{}) string); ok {
			if s := t(key); s != key {
				return s
			}
		}
	}
	return fallback
}
