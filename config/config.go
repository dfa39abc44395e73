package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the main application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Gallery GalleryConfig `mapstructure:"gallery"`
	FaceAPI FaceAPIConfig `mapstructure:"faceapi"`
	Match   MatchConfig   `mapstructure:"match"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Admin   AdminConfig   `mapstructure:"admin"`
	I18n    I18nConfig    `mapstructure:"i18n"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	DataDir     string `mapstructure:"data_dir"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
	TemplateDir string `mapstructure:"template_dir"`
	StaticDir   string `mapstructure:"static_dir"`
	Timezone    string `mapstructure:"timezone"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig contains database settings (SQLite variant).
type DBConfig struct {
	File string `mapstructure:"file"`
}

// GalleryConfig selects and configures the persistence variant.
//
// backend "sqlite" stores students and attendance in the database; backend
// "files" keeps per-student embedding files in faces_dir and appends
// attendance to attendance_file (CSV, header "timestamp,date,name").
type GalleryConfig struct {
	Backend        string `mapstructure:"backend"`
	FacesDir       string `mapstructure:"faces_dir"`
	AttendanceFile string `mapstructure:"attendance_file"`
}

// FaceAPIConfig configures the external face service that turns images into
// embedding vectors.
type FaceAPIConfig struct {
	URL              string  `mapstructure:"url"`
	Timeout          int     `mapstructure:"timeout"`
	DetProbThreshold float64 `mapstructure:"det_prob_threshold"`
}

// MatchConfig contains matching settings.
type MatchConfig struct {
	// Tolerance is the maximum embedding distance for a match. Lower is
	// stricter. This is the single most important tunable in the system.
	Tolerance float64 `mapstructure:"tolerance"`
}

// MQTTConfig configures the optional attendance event publisher.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// AdminConfig contains settings for the admin login.
type AdminConfig struct {
	// PasswordHash is a bcrypt hash of the admin password. Password is a
	// plaintext fallback for development setups; PasswordHash wins when
	// both are set.
	PasswordHash  string `mapstructure:"password_hash"`
	Password      string `mapstructure:"password"`
	SessionSecret string `mapstructure:"session_secret"`
}

// I18nConfig contains settings for user-facing message translation.
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables overlay the file, e.g. FACE_ATTENDANCE_SERVER_PORT.
	v.AutomaticEnv()
	v.SetEnvPrefix("FACE_ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Gallery.Backend != "sqlite" && cfg.Gallery.Backend != "files" {
		return nil, fmt.Errorf("unknown gallery backend %q (want sqlite or files)", cfg.Gallery.Backend)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.snapshot_dir", "/data/snapshots")
	v.SetDefault("server.template_dir", "./web/templates")
	v.SetDefault("server.static_dir", "./web/static")
	v.SetDefault("server.timezone", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/face-attendance.log")

	v.SetDefault("db.file", "/data/face-attendance.db")

	v.SetDefault("gallery.backend", "sqlite")
	v.SetDefault("gallery.faces_dir", "/data/known_faces")
	v.SetDefault("gallery.attendance_file", "/data/attendance.csv")

	v.SetDefault("faceapi.url", "http://localhost:18081")
	v.SetDefault("faceapi.timeout", 30)
	v.SetDefault("faceapi.det_prob_threshold", 0.8)

	v.SetDefault("match.tolerance", 0.6)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-attendance-go")
	v.SetDefault("mqtt.topic", "attendance/events")

	v.SetDefault("admin.password", "admin")
	v.SetDefault("admin.session_secret", "change-me-to-a-long-random-string")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.locales_dir", "./web/locales")
}

// ensureDirectories makes sure all required directories exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.Gallery.Backend == "files" {
		if err := os.MkdirAll(cfg.Gallery.FacesDir, 0755); err != nil {
			return fmt.Errorf("failed to create faces directory: %w", err)
		}
	}

	if cfg.Gallery.Backend == "sqlite" && cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
