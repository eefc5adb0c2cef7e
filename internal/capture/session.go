package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/ledger"
	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/observability"
	"github.com/your-org/faceroll/internal/recognize"
	"github.com/your-org/faceroll/internal/vision"
)

// Mode selects the confirmation policy for a session.
type Mode string

const (
	// ModeAttendance confirms identity with consecutive-frame debouncing.
	ModeAttendance Mode = "attendance"
	// ModeLiveness additionally demands blinks and a head turn, for
	// kiosk-style check-in that must resist photo spoofing.
	ModeLiveness Mode = "liveness"
)

// State is the session lifecycle. Transitions only move forward.
type State int32

const (
	StateUnopened State = iota
	StateOpening
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Analyzer is the slice of the vision engine a session needs.
// *vision.Engine satisfies it; tests substitute scripted fakes.
type Analyzer interface {
	Detect(img image.Image) ([]vision.Detection, error)
	Embed(img image.Image, det vision.Detection) ([]float32, error)
}

// EventFunc receives every recognition event the session emits.
type EventFunc func(models.RecognitionEvent)

// SnapshotPutter persists confirmation snapshots. Optional.
type SnapshotPutter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// SessionConfig wires a session's collaborators.
type SessionConfig struct {
	Mode      Mode
	Source    FrameSource
	Engine    Analyzer
	Encodings *encoding.Store
	Matcher   *recognize.Matcher
	Ledger    *ledger.Ledger
	Events    EventFunc

	Snapshots      SnapshotPutter // nil disables snapshots
	SnapshotPrefix string

	ReloadInterval      time.Duration
	RequiredConsecutive int
	StaleAfter          time.Duration
	Liveness            recognize.LivenessParams
	DownscaleFactor     int
}

// Session runs one camera's recognition loop: decode, detect, embed,
// match, confirm, record. Each frame is handled in isolation; an error on
// one frame is logged and the loop moves to the next.
type Session struct {
	ID      uuid.UUID
	mode    Mode
	cfg     SessionConfig
	started time.Time

	debounce *recognize.DebounceTracker
	liveness *recognize.LivenessTracker

	mu      sync.Mutex
	state   State
	viewers map[chan []byte]struct{}

	cancel context.CancelFunc
	done   chan struct{}

	// eyeOpenness and now are swappable for tests.
	eyeOpenness func(image.Image, [5][2]float32) float64
	now         func() time.Time
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		ID:          uuid.New(),
		mode:        cfg.Mode,
		cfg:         cfg,
		state:       StateUnopened,
		viewers:     make(map[chan []byte]struct{}),
		done:        make(chan struct{}),
		eyeOpenness: vision.EyeOpenness,
		now:         time.Now,
	}
	s.debounce = recognize.NewDebounceTracker(cfg.RequiredConsecutive, cfg.StaleAfter)
	s.liveness = recognize.NewLivenessTracker(cfg.Liveness)
	return s
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) StartedAt() time.Time { return s.started }

// Run drives the frame loop until the context is cancelled or the source
// ends. The camera is released on every exit path.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.started = s.now()
	s.setState(StateOpening)
	observability.ActiveSessions.Inc()

	defer func() {
		s.cfg.Source.Stop()
		s.setState(StateStopped)
		observability.ActiveSessions.Dec()
		s.closeViewers()
		close(s.done)
		cancel()
	}()

	lastReload := time.Time{}

	err := s.cfg.Source.Stream(ctx, func(frameData []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(StateStreaming)

		if err := s.processFrame(ctx, frameData, &lastReload); err != nil {
			slog.Warn("frame processing error", "session", s.ID, "error", err)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("camera stream: %w", err)
	}
	return nil
}

// Stop requests shutdown and waits for the loop to exit.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.cfg.Source.Stop()
	<-s.done
}

// Done is closed when the loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// processFrame handles exactly one JPEG frame end to end.
func (s *Session) processFrame(ctx context.Context, frameData []byte, lastReload *time.Time) error {
	observability.FramesProcessed.WithLabelValues(string(s.mode)).Inc()

	img, err := jpeg.Decode(bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	now := s.now()

	// While nobody is enrolled there is nothing to match against, so the
	// loop idles and re-checks the encodings directory periodically.
	set := s.cfg.Encodings.Snapshot()
	if set.Empty() {
		if now.Sub(*lastReload) >= s.cfg.ReloadInterval {
			*lastReload = now
			if _, _, err := s.cfg.Encodings.Reload(); err != nil {
				slog.Warn("encodings reload failed", "error", err)
			}
			set = s.cfg.Encodings.Snapshot()
		}
		if set.Empty() {
			s.emit(models.RecognitionEvent{
				Type:      models.EventNoEncodings,
				SessionID: s.ID,
				Detail:    "no students enrolled",
				Timestamp: now,
			})
			s.broadcastFrame(annotateBanner(img, "waiting for enrollments"))
			return nil
		}
	}

	small := vision.Downscale(img, s.cfg.DownscaleFactor)
	detections, err := s.cfg.Engine.Detect(small)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		s.broadcastFrame(toRGBA(img))
		return nil
	}
	observability.FacesDetected.WithLabelValues(string(s.mode)).Add(float64(len(detections)))

	// Every detected face runs the full match-and-confirm path; the
	// trackers are keyed per identity, so several people accumulate
	// progress in the same frame. One face failing does not stop the
	// others.
	canvas := toRGBA(img)
	var errs []error
	for _, det := range detections {
		// Boxes and landmarks come from the downscaled frame; scale
		// them back so the crop and overlay land on the full-size
		// image.
		full := scaleDetection(det, s.cfg.DownscaleFactor)
		if err := s.processFace(ctx, img, canvas, full, set, now); err != nil {
			errs = append(errs, err)
		}
	}
	s.broadcastFrame(canvas)
	return errors.Join(errs...)
}

// processFace runs one face through embed, match, and the mode's
// confirmation policy, drawing its overlay onto the shared canvas.
func (s *Session) processFace(ctx context.Context, img image.Image, canvas *image.RGBA, det vision.Detection, set *encoding.Set, now time.Time) error {
	probe, err := s.cfg.Engine.Embed(img, det)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	match := s.cfg.Matcher.Match(probe, set)
	if !match.Matched {
		s.emit(models.RecognitionEvent{
			Type:      models.EventFaceUnknown,
			SessionID: s.ID,
			Distance:  match.Distance,
			Timestamp: now,
		})
		annotateFace(canvas, det.BBox, "unknown", colorUnknown)
		return nil
	}
	observability.FacesMatched.WithLabelValues(string(s.mode)).Inc()

	switch s.mode {
	case ModeLiveness:
		return s.confirmLiveness(ctx, img, canvas, det, match, now)
	default:
		return s.confirmDebounce(ctx, canvas, det, match, now)
	}
}

// confirmDebounce applies the consecutive-frame rule and marks attendance
// once it is satisfied.
func (s *Session) confirmDebounce(ctx context.Context, canvas *image.RGBA, det vision.Detection, match recognize.MatchResult, now time.Time) error {
	if !s.debounce.Observe(match.TokenNo, now) {
		s.emit(models.RecognitionEvent{
			Type:      models.EventFacePending,
			SessionID: s.ID,
			TokenNo:   match.TokenNo,
			Name:      match.Name,
			Distance:  match.Distance,
			Detail:    fmt.Sprintf("seen %d/%d frames", s.debounce.Count(match.TokenNo), s.cfg.RequiredConsecutive),
			Timestamp: now,
		})
		annotateFace(canvas, det.BBox, match.Name, colorPending)
		return nil
	}
	return s.mark(ctx, canvas, det, match, now)
}

// confirmLiveness feeds the blink and head-turn state machine and marks
// attendance when the full challenge completes.
func (s *Session) confirmLiveness(ctx context.Context, img image.Image, canvas *image.RGBA, det vision.Detection, match recognize.MatchResult, now time.Time) error {
	centerX := int((det.BBox[0] + det.BBox[2]) / 2)
	openness := s.eyeOpenness(img, det.Landmarks)

	if !s.liveness.Observe(match.TokenNo, centerX, openness) {
		blinks, phase, stable := s.liveness.Progress(match.TokenNo)
		s.emit(models.RecognitionEvent{
			Type:      models.EventLivenessProgress,
			SessionID: s.ID,
			TokenNo:   match.TokenNo,
			Name:      match.Name,
			Distance:  match.Distance,
			Detail:    fmt.Sprintf("blinks %d, turn %s, stable %d", blinks, phase, stable),
			Timestamp: now,
		})
		annotateFace(canvas, det.BBox, match.Name, colorPending)
		return nil
	}
	return s.mark(ctx, canvas, det, match, now)
}

// mark writes the attendance record and reports the outcome.
func (s *Session) mark(ctx context.Context, canvas *image.RGBA, det vision.Detection, match recognize.MatchResult, now time.Time) error {
	result, err := s.cfg.Ledger.TryMark(ctx, match.TokenNo, match.Name, now)
	if err != nil {
		annotateFace(canvas, det.BBox, match.Name, colorPending)
		return err
	}

	eventType := models.EventAttendanceMarked
	if result.Outcome == ledger.AlreadyPresent {
		eventType = models.EventAttendanceRepeated
	}
	s.emit(models.RecognitionEvent{
		Type:      eventType,
		SessionID: s.ID,
		TokenNo:   match.TokenNo,
		Name:      match.Name,
		Distance:  match.Distance,
		Status:    result.Record.Status,
		Timestamp: now,
	})

	annotateFace(canvas, det.BBox, fmt.Sprintf("%s (%s)", match.Name, result.Record.Status), colorMarked)

	if result.Outcome == ledger.Inserted && s.cfg.Snapshots != nil {
		key := fmt.Sprintf("%s/%s/%s_%s.jpg",
			s.cfg.SnapshotPrefix, result.Record.Day, match.TokenNo, now.Format("150405"))
		if err := s.cfg.Snapshots.PutObject(ctx, key, vision.EncodeJPEG(canvas, 85), "image/jpeg"); err != nil {
			slog.Warn("save snapshot", "error", err, "key", key)
		}
	}
	return nil
}

func (s *Session) emit(event models.RecognitionEvent) {
	if s.cfg.Events != nil {
		s.cfg.Events(event)
	}
}

// AttachViewer registers an MJPEG consumer. The returned cancel func must
// be called when the consumer goes away.
func (s *Session) AttachViewer() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	s.viewers[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.viewers[ch]; ok {
			delete(s.viewers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// broadcastFrame fans the annotated frame out to viewers. Slow viewers
// lose frames rather than stalling the loop.
func (s *Session) broadcastFrame(img *image.RGBA) {
	s.mu.Lock()
	n := len(s.viewers)
	s.mu.Unlock()
	if n == 0 {
		return
	}

	data := vision.EncodeJPEG(img, 80)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.viewers {
		select {
		case ch <- data:
		default:
		}
	}
}

func (s *Session) closeViewers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.viewers {
		delete(s.viewers, ch)
		close(ch)
	}
}

// scaleDetection maps a detection from the downscaled frame back onto the
// original.
func scaleDetection(det vision.Detection, factor int) vision.Detection {
	if factor <= 1 {
		return det
	}
	f := float32(factor)
	out := det
	for i := range out.BBox {
		out.BBox[i] *= f
	}
	for i := range out.Landmarks {
		out.Landmarks[i][0] *= f
		out.Landmarks[i][1] *= f
	}
	return out
}
