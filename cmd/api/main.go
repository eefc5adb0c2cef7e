package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceroll/internal/api"
	"github.com/your-org/faceroll/internal/api/ws"
	"github.com/your-org/faceroll/internal/capture"
	"github.com/your-org/faceroll/internal/config"
	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/ledger"
	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/observability"
	"github.com/your-org/faceroll/internal/queue"
	"github.com/your-org/faceroll/internal/storage"
	"github.com/your-org/faceroll/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceroll", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// NATS event feed, optional
	var producer *queue.Producer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStream(ctx); err != nil {
			slog.Warn("ensure nats stream", "error", err)
		}
	} else {
		slog.Info("nats disabled, events stay local")
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Enrolled encodings
	encodings := encoding.NewStore(cfg.Recognition.EncodingsDir)
	set, diags, err := encodings.Reload()
	if err != nil {
		slog.Error("load encodings", "error", err)
		os.Exit(1)
	}
	slog.Info("encodings loaded", "count", set.Len(), "skipped", len(diags))

	// Attendance ledger
	lgr, err := ledger.New(db, cfg.Recognition.LateCutoff)
	if err != nil {
		slog.Error("create ledger", "error", err)
		os.Exit(1)
	}

	// ONNX models. Failure degrades the service: views and exports keep
	// working, registration and capture report models unavailable.
	var engine capture.Analyzer
	var embedFn func([]byte) ([]float32, float32, error)

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed, registration and capture unavailable", "error", err)
	} else {
		visionEngine, err := vision.NewEngine(cfg.Vision)
		if err != nil {
			slog.Warn("vision engine init failed, registration and capture unavailable", "error", err)
		} else {
			engine = visionEngine
			embedFn = visionEngine.EmbedImage
			defer ort.DestroyEnvironment()
			defer visionEngine.Close()
		}
	}

	// Event fanout: every recognition event reaches the WebSocket clients
	// and, when configured, the NATS feed.
	events := func(event models.RecognitionEvent) {
		hub.BroadcastEvent(event)
		if err := producer.PublishEvent(ctx, event); err != nil {
			slog.Warn("publish event", "error", err, "type", event.Type)
		}
	}

	manager := capture.NewManager(cfg, engine, encodings, lgr, events, minioStore)

	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		DB:          db,
		MinIO:       minioStore,
		Producer:    producer,
		Hub:         hub,
		Encodings:   encodings,
		Manager:     manager,
		EmbedFn:     embedFn,
		BaseCtx:     ctx,
		PhotoPrefix: cfg.Storage.PhotoPrefix,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the MJPEG stream response is long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	manager.StopAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
