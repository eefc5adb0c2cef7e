package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Camera      CameraConfig      `yaml:"camera"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig controls the optional attendance event feed.
// An empty URL disables publishing entirely.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CameraConfig describes the local capture devices.
// Devices are probed in order; the first one that produces a frame wins.
type CameraConfig struct {
	Devices     []string      `yaml:"devices"`
	FPS         int           `yaml:"fps"`
	FrameWidth  int           `yaml:"frame_width"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	DownscaleFactor    int     `yaml:"downscale_factor"`
}

// RecognitionConfig holds the decision-pipeline knobs for the primary
// (debounce) attendance mode.
//
// Lowering MatchThreshold trades false accepts for false rejects: a stricter
// threshold admits fewer impostors but also turns away more genuine probes.
type RecognitionConfig struct {
	MatchThreshold      float64       `yaml:"match_threshold"`
	RequiredConsecutive int           `yaml:"required_consecutive"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	LateCutoff          string        `yaml:"late_cutoff"`
	ReloadInterval      time.Duration `yaml:"reload_interval"`
	EncodingsDir        string        `yaml:"encodings_dir"`
}

// LivenessConfig holds the blink and head-turn knobs for the secondary
// capture mode that guards against static-photo spoofing.
type LivenessConfig struct {
	MatchThreshold  float64 `yaml:"match_threshold"`
	BlinkThreshold  float64 `yaml:"blink_threshold"`
	BlinkFrames     int     `yaml:"blink_frames"`
	RequiredBlinks  int     `yaml:"required_blinks"`
	TurnDeltaPx     int     `yaml:"turn_delta_px"`
	MinStableFrames int     `yaml:"min_stable_frames"`
}

type StorageConfig struct {
	PhotoPrefix    string `yaml:"photo_prefix"`
	SnapshotPrefix string `yaml:"snapshot_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	SetDefaults(cfg)

	return cfg, nil
}

// SetDefaults fills in the reference value for every unset knob.
func SetDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if len(cfg.Camera.Devices) == 0 {
		cfg.Camera.Devices = []string{"/dev/video0", "/dev/video1", "/dev/video2", "/dev/video3"}
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 10
	}
	if cfg.Camera.FrameWidth == 0 {
		cfg.Camera.FrameWidth = 640
	}
	if cfg.Camera.OpenTimeout == 0 {
		cfg.Camera.OpenTimeout = 5 * time.Second
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.DownscaleFactor == 0 {
		cfg.Vision.DownscaleFactor = 2
	}
	if cfg.Recognition.MatchThreshold == 0 {
		cfg.Recognition.MatchThreshold = 0.5
	}
	if cfg.Recognition.RequiredConsecutive == 0 {
		cfg.Recognition.RequiredConsecutive = 3
	}
	if cfg.Recognition.StaleAfter == 0 {
		cfg.Recognition.StaleAfter = 5 * time.Second
	}
	if cfg.Recognition.LateCutoff == "" {
		cfg.Recognition.LateCutoff = "09:15:00"
	}
	if cfg.Recognition.ReloadInterval == 0 {
		cfg.Recognition.ReloadInterval = 5 * time.Second
	}
	if cfg.Recognition.EncodingsDir == "" {
		cfg.Recognition.EncodingsDir = "encodings"
	}
	if cfg.Liveness.MatchThreshold == 0 {
		cfg.Liveness.MatchThreshold = 0.5
	}
	if cfg.Liveness.BlinkThreshold == 0 {
		cfg.Liveness.BlinkThreshold = 0.18
	}
	if cfg.Liveness.BlinkFrames == 0 {
		cfg.Liveness.BlinkFrames = 3
	}
	if cfg.Liveness.RequiredBlinks == 0 {
		cfg.Liveness.RequiredBlinks = 2
	}
	if cfg.Liveness.TurnDeltaPx == 0 {
		cfg.Liveness.TurnDeltaPx = 20
	}
	if cfg.Liveness.MinStableFrames == 0 {
		cfg.Liveness.MinStableFrames = 20
	}
	if cfg.Storage.PhotoPrefix == "" {
		cfg.Storage.PhotoPrefix = "photos"
	}
	if cfg.Storage.SnapshotPrefix == "" {
		cfg.Storage.SnapshotPrefix = "snapshots"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEROLL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEROLL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEROLL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEROLL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEROLL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEROLL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEROLL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEROLL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEROLL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEROLL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEROLL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEROLL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEROLL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEROLL_ENCODINGS_DIR"); v != "" {
		cfg.Recognition.EncodingsDir = v
	}
	if v := os.Getenv("FACEROLL_LATE_CUTOFF"); v != "" {
		cfg.Recognition.LateCutoff = v
	}
}
