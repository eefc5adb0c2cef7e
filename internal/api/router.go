package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceroll/internal/api/handlers"
	"github.com/your-org/faceroll/internal/api/ws"
	"github.com/your-org/faceroll/internal/auth"
	"github.com/your-org/faceroll/internal/capture"
	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/queue"
	"github.com/your-org/faceroll/internal/storage"
)

type RouterConfig struct {
	APIKey    string
	DB        *storage.PostgresStore
	MinIO     *storage.MinIOStore
	Producer  *queue.Producer
	Hub       *ws.Hub
	Encodings *encoding.Store
	Manager   *capture.Manager
	// EmbedFn extracts a face embedding from image bytes.
	EmbedFn func(imageData []byte) ([]float32, float32, error)
	// BaseCtx bounds the lifetime of capture sessions started over HTTP.
	BaseCtx context.Context

	PhotoPrefix string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket event feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Students
	studentH := handlers.NewStudentHandler(cfg.DB, cfg.MinIO, cfg.Encodings)
	studentH.EmbedFn = cfg.EmbedFn
	studentH.PhotoPrefix = cfg.PhotoPrefix
	v1.POST("/students", studentH.Register)
	v1.GET("/students", studentH.List)
	v1.GET("/students/:token", studentH.Get)
	v1.PATCH("/students/:token", studentH.Update)
	v1.DELETE("/students/:token", studentH.Delete)
	v1.GET("/students/:token/photo", studentH.Photo)
	v1.POST("/search", studentH.Search)

	// Attendance views
	attendanceH := handlers.NewAttendanceHandler(cfg.DB)
	v1.GET("/attendance", attendanceH.ByDay)
	v1.GET("/attendance/summary", attendanceH.Summary)
	v1.GET("/attendance/export", attendanceH.ExportCSV)

	// Capture sessions
	captureH := handlers.NewCaptureHandler(cfg.Manager, cfg.BaseCtx)
	v1.POST("/capture/start", captureH.Start)
	v1.POST("/capture/:id/stop", captureH.Stop)
	v1.GET("/capture/status", captureH.Status)
	v1.GET("/capture/stream", captureH.Stream)

	return r
}
