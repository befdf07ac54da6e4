// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/documentintake/internal/gcp"
	"github.com/Lllllllleong/documentintake/internal/models"
)

// Repository backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendGCS       = "gcs"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	GCP         GCPConfig
	Store       StoreConfig
	Redis       RedisConfig
	Extraction  ExtractionConfig
	Mapping     MappingConfig
	Checkpoints models.Checkpoints
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

type GCPConfig struct {
	ProjectID        string
	Region           string
	VertexModel      string
	WorkflowID       string
	WorkflowLocation string
}

// StoreConfig selects the document repository and object store.
type StoreConfig struct {
	Repository      string
	Objects         string
	Collection      string
	UploadsBucket   string
	DatabaseURL     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
	Dedupe          bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// ExtractionConfig sizes the worker pool and image decomposition.
type ExtractionConfig struct {
	Workers       int
	QueueSize     int
	TaskTimeout   time.Duration
	TileThreshold int
	TileSize      int
	Languages     []string
	DPI           int
}

type MappingConfig struct {
	// ServiceURL is the base URL of the intelligent mapping endpoint. Empty
	// means Vertex maps the fields it extracted. Mapping needs field extraction.
	ServiceURL        string
	Timeout           time.Duration
	ExtractWithVertex bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	cp := models.DefaultCheckpoints()
	return &Config{
		Server: ServerConfig{
			Addr:            gcp.GetEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_MB", 50)) << 20,
		},
		GCP: GCPConfig{
			ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
			Region:           gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
			VertexModel:      gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
			WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
			WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		},
		Store: StoreConfig{
			Repository:      strings.ToLower(gcp.GetEnv("REPOSITORY_BACKEND", BackendMemory)),
			Objects:         strings.ToLower(gcp.GetEnv("OBJECT_STORE_BACKEND", BackendMemory)),
			Collection:      gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
			UploadsBucket:   gcp.GetEnv("UPLOADS_BUCKET", ""),
			DatabaseURL:     gcp.GetEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvAsInt("DB_MAX_CONNS", 20)),
			MinConns:        int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			Dedupe:          getEnvAsBool("DEDUPE_UPLOADS", true),
		},
		Redis: RedisConfig{
			Addr:     gcp.GetEnv("REDIS_ADDR", ""),
			Password: gcp.GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Channel:  gcp.GetEnv("REDIS_CHANNEL", "documentintake:events"),
		},
		Extraction: ExtractionConfig{
			Workers:       getEnvAsInt("EXTRACTION_WORKERS", 0),
			QueueSize:     getEnvAsInt("EXTRACTION_QUEUE_SIZE", 256),
			TaskTimeout:   getEnvAsDuration("EXTRACTION_TASK_TIMEOUT", 2*time.Minute),
			TileThreshold: getEnvAsInt("TILE_THRESHOLD", 2000),
			TileSize:      getEnvAsInt("TILE_SIZE", 1500),
			Languages:     splitList(gcp.GetEnv("OCR_LANGUAGES", "eng")),
			DPI:           getEnvAsInt("OCR_DPI", 300),
		},
		Mapping: MappingConfig{
			ServiceURL:        gcp.GetEnv("MAPPING_SERVICE_URL", ""),
			Timeout:           getEnvAsDuration("MAPPING_TIMEOUT", 30*time.Second),
			ExtractWithVertex: getEnvAsBool("VERTEX_FIELD_EXTRACTION", false),
		},
		Checkpoints: models.Checkpoints{
			Queued:    getEnvAsInt("PROGRESS_QUEUED", cp.Queued),
			Uploaded:  getEnvAsInt("PROGRESS_UPLOADED", cp.Uploaded),
			OCRStart:  getEnvAsInt("PROGRESS_OCR_START", cp.OCRStart),
			OCREnd:    getEnvAsInt("PROGRESS_OCR_END", cp.OCREnd),
			Completed: cp.Completed,
		},
	}
}

// Validate checks backend specific requirements.
func (c *Config) Validate() error {
	switch c.Store.Repository {
	case BackendMemory:
	case BackendFirestore:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID is required for the firestore repository")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres repository")
		}
	default:
		return fmt.Errorf("unknown REPOSITORY_BACKEND %q", c.Store.Repository)
	}

	switch c.Store.Objects {
	case BackendMemory:
	case BackendGCS:
		if c.Store.UploadsBucket == "" {
			return fmt.Errorf("UPLOADS_BUCKET is required for the gcs object store")
		}
	default:
		return fmt.Errorf("unknown OBJECT_STORE_BACKEND %q", c.Store.Objects)
	}

	if c.Extraction.TileSize <= 0 || c.Extraction.TileThreshold < c.Extraction.TileSize {
		return fmt.Errorf("TILE_SIZE must be positive and not above TILE_THRESHOLD")
	}
	cp := c.Checkpoints
	if !(0 <= cp.Queued && cp.Queued <= cp.Uploaded && cp.Uploaded <= cp.OCRStart &&
		cp.OCRStart <= cp.OCREnd && cp.OCREnd < cp.Completed) {
		return fmt.Errorf("progress checkpoints must be non-decreasing and below %d", cp.Completed)
	}
	if c.Mapping.ExtractWithVertex && c.GCP.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID is required for vertex field extraction")
	}
	if c.Mapping.ServiceURL != "" && !c.Mapping.ExtractWithVertex {
		return fmt.Errorf("MAPPING_SERVICE_URL requires VERTEX_FIELD_EXTRACTION")
	}
	if c.GCP.WorkflowID != "" && c.GCP.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID is required when WORKFLOW_ID is set")
	}
	return nil
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := gcp.GetEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := gcp.GetEnv(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := gcp.GetEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
