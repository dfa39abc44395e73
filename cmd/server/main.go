package main

import (
	"fmt"
	"os"

	"face-attendance-go/config"
	"face-attendance-go/internal/api/handlers"
	"face-attendance-go/internal/api/middleware"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/faceapi"
	"face-attendance-go/internal/integrations/mqtt"
	"face-attendance-go/internal/logger"
	"face-attendance-go/internal/sse"
	"face-attendance-go/internal/store/dbstore"
	"face-attendance-go/internal/store/filestore"
	"face-attendance-go/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := defaultConfigPath
	if env := os.Getenv("FACE_ATTENDANCE_CONFIG"); env != "" {
		configPath = env
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	timezone.Initialize(cfg.Server.Timezone)

	// Build the persistence variant selected in config.
	var galleryBackend gallery.Backend
	var attendanceLedger ledger.Ledger
	var statsSource handlers.StatsSource

	switch cfg.Gallery.Backend {
	case "sqlite":
		log.Info("Initializing database...")
		if err := db.Initialize(cfg.DB.File); err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		log.Info("Database initialization complete.")

		repo := repository.NewSQLiteRepository(db.DB)
		galleryBackend = dbstore.NewGalleryBackend(repo)
		attendanceLedger = dbstore.NewLedger(repo)
		statsSource = repo
	case "files":
		backend, err := filestore.NewGalleryBackend(cfg.Gallery.FacesDir)
		if err != nil {
			log.Fatalf("Failed to initialize faces directory: %v", err)
		}
		csvLedger, err := filestore.NewCSVLedger(cfg.Gallery.AttendanceFile)
		if err != nil {
			log.Fatalf("Failed to initialize attendance log: %v", err)
		}
		galleryBackend = backend
		attendanceLedger = csvLedger
	}

	galleryStore, err := gallery.NewStore(galleryBackend)
	if err != nil {
		log.Fatalf("Failed to load gallery: %v", err)
	}

	// Face service client (embedding extraction happens on its side).
	provider := faceapi.NewClient(cfg.FaceAPI)

	// SSE hub for live dashboard updates.
	hub := sse.NewHub()
	go hub.Run()

	// Optional MQTT attendance event publisher.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to initialize MQTT client: %v. Continuing without MQTT.", err)
			mqttClient = nil
		} else {
			defer mqttClient.Stop()
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	service := attendance.NewService(provider, galleryStore, attendanceLedger, cfg.Match.Tolerance, hub, mqttClient)

	// --- Router setup ---
	router := gin.Default()

	sessionStore := cookie.NewStore([]byte(cfg.Admin.SessionSecret))
	router.Use(sessions.Sessions("face_attendance_session", sessionStore))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	router.Use(middleware.I18n(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	}))

	router.LoadHTMLGlob(cfg.Server.TemplateDir + "/*.html")
	router.Static("/static", cfg.Server.StaticDir)
	router.Static("/snapshots", cfg.Server.SnapshotDir)

	webHandler := handlers.NewWebHandler(cfg)
	webHandler.RegisterRoutes(router)

	apiHandler := handlers.NewAPIHandler(cfg, service, galleryStore, attendanceLedger, provider, hub, statsSource)
	apiHandler.RegisterRoutes(router.Group("/api"), middleware.RequireLoginAPI())

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Starting server on %s (gallery backend: %s, tolerance: %.2f)", serverAddr, cfg.Gallery.Backend, cfg.Match.Tolerance)
	if err := router.Run(serverAddr); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
