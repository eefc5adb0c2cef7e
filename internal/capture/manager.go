package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/faceroll/internal/config"
	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/ledger"
	"github.com/your-org/faceroll/internal/recognize"
)

// Manager owns session lifecycle: it opens the camera, starts the frame
// loop, and guarantees the device is released before another session can
// claim it. Only one camera is attached, so only one session runs at a time.
type Manager struct {
	camera   config.CameraConfig
	vision   config.VisionConfig
	recog    config.RecognitionConfig
	liveCfg  config.LivenessConfig
	storeCfg config.StorageConfig

	engine    Analyzer
	encodings *encoding.Store
	ledger    *ledger.Ledger
	events    EventFunc
	snapshots SnapshotPutter

	mu       sync.Mutex
	current  *Session
	starting bool // claimed between the running check and the session registration

	// openCamera is swappable for tests.
	openCamera func(ctx context.Context, cfg config.CameraConfig) (FrameSource, error)
}

func NewManager(
	cfg *config.Config,
	engine Analyzer,
	encodings *encoding.Store,
	lgr *ledger.Ledger,
	events EventFunc,
	snapshots SnapshotPutter,
) *Manager {
	return &Manager{
		camera:     cfg.Camera,
		vision:     cfg.Vision,
		recog:      cfg.Recognition,
		liveCfg:    cfg.Liveness,
		storeCfg:   cfg.Storage,
		engine:     engine,
		encodings:  encodings,
		ledger:     lgr,
		events:     events,
		snapshots:  snapshots,
		openCamera: func(ctx context.Context, cfg config.CameraConfig) (FrameSource, error) {
			cam, err := OpenCamera(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return cam, nil
		},
	}
}

// Start opens the camera and launches a session in the given mode.
// Fails when a session is already running or no camera responds.
func (m *Manager) Start(ctx context.Context, mode Mode) (*Session, error) {
	if m.engine == nil {
		return nil, fmt.Errorf("vision models not loaded")
	}

	// Claim the slot before touching the camera, so a second Start racing
	// past here cannot open the device twice or orphan a session.
	m.mu.Lock()
	if m.current != nil {
		id := m.current.ID
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already running", id)
	}
	if m.starting {
		m.mu.Unlock()
		return nil, fmt.Errorf("a session is already starting")
	}
	m.starting = true
	m.mu.Unlock()

	cam, err := m.openCamera(ctx, m.camera)
	if err != nil {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		return nil, fmt.Errorf("open camera: %w", err)
	}

	threshold := m.recog.MatchThreshold
	if mode == ModeLiveness {
		threshold = m.liveCfg.MatchThreshold
	}

	session := NewSession(SessionConfig{
		Mode:      mode,
		Source:    cam,
		Engine:    m.engine,
		Encodings: m.encodings,
		Matcher:   recognize.NewMatcher(threshold),
		Ledger:    m.ledger,
		Events:    m.events,

		Snapshots:      m.snapshots,
		SnapshotPrefix: m.storeCfg.SnapshotPrefix,

		ReloadInterval:      m.recog.ReloadInterval,
		RequiredConsecutive: m.recog.RequiredConsecutive,
		StaleAfter:          m.recog.StaleAfter,
		Liveness: recognize.LivenessParams{
			BlinkThreshold:  m.liveCfg.BlinkThreshold,
			BlinkFrames:     m.liveCfg.BlinkFrames,
			RequiredBlinks:  m.liveCfg.RequiredBlinks,
			TurnDeltaPx:     m.liveCfg.TurnDeltaPx,
			MinStableFrames: m.liveCfg.MinStableFrames,
		},
		DownscaleFactor: m.vision.DownscaleFactor,
	})

	m.mu.Lock()
	m.current = session
	m.starting = false
	m.mu.Unlock()

	slog.Info("capture session starting", "session", session.ID, "mode", mode, "device", cam.Device())

	go func() {
		if err := session.Run(ctx); err != nil {
			slog.Error("capture session failed", "session", session.ID, "error", err)
		}
		m.mu.Lock()
		if m.current == session {
			m.current = nil
		}
		m.mu.Unlock()
		slog.Info("capture session stopped", "session", session.ID)
	}()

	return session, nil
}

// Stop halts the session with the given ID. Stopping an unknown or
// already-stopped session is a no-op.
func (m *Manager) Stop(id uuid.UUID) {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil || session.ID != id {
		return
	}
	session.Stop()

	m.mu.Lock()
	if m.current == session {
		m.current = nil
	}
	m.mu.Unlock()
}

// Current returns the running session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// StopAll halts whatever is running. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	session := m.current
	m.current = nil
	m.mu.Unlock()

	if session != nil {
		session.Stop()
	}
}
