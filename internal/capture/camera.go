package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/your-org/faceroll/internal/config"
)

// ErrNoCamera is returned when none of the configured devices produces
// a frame.
var ErrNoCamera = errors.New("no camera available")

// FrameCallback is called for each captured JPEG frame.
type FrameCallback func(frameData []byte) error

// FrameSource delivers a stream of JPEG frames. The ffmpeg-backed Camera
// is the production implementation; tests substitute scripted sources.
type FrameSource interface {
	// Stream blocks, invoking the callback per frame, until the context
	// is cancelled or the source ends.
	Stream(ctx context.Context, callback FrameCallback) error
	Device() string
	Stop()
}

// Camera reads MJPEG frames from a V4L2 device through ffmpeg.
type Camera struct {
	device string
	fps    int
	width  int

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

// OpenCamera probes the configured devices in order and returns a Camera
// bound to the first one that delivers a frame. Later devices are only
// tried after earlier ones fail, so /dev/video0 always wins when present.
func OpenCamera(ctx context.Context, cfg config.CameraConfig) (*Camera, error) {
	for _, device := range cfg.Devices {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if probeDevice(ctx, device, cfg.OpenTimeout) {
			slog.Info("camera opened", "device", device)
			return &Camera{
				device: device,
				fps:    cfg.FPS,
				width:  cfg.FrameWidth,
			}, nil
		}
		slog.Warn("camera probe failed", "device", device)
	}
	return nil, ErrNoCamera
}

// probeDevice asks ffmpeg for a single frame and checks it looks like JPEG.
func probeDevice(ctx context.Context, device string, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-i", device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return bytes.HasPrefix(out, []byte{0xFF, 0xD8})
}

func (c *Camera) Device() string {
	return c.device
}

// Stream starts ffmpeg on the camera device and feeds JPEG frames to the
// callback. Blocks until the context is cancelled or ffmpeg exits.
func (c *Camera) Stream(ctx context.Context, callback FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", c.fps),
		"-i", c.device,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", c.fps, c.width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	if err := readJPEGFrames(ctx, stdout, callback); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read frames: %w", err)
	}

	return cmd.Wait()
}

// Stop terminates the ffmpeg process and releases the device.
func (c *Camera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// readJPEGFrames reads a stream of concatenated JPEG images.
// Tolerates initial EOF while ffmpeg is still warming up (up to 5 seconds).
func readJPEGFrames(ctx context.Context, r io.Reader, callback FrameCallback) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0
	const maxStartupRetries = 50 // 50 * 100ms
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// JPEG start marker: FF D8
		err := findJPEGStart(reader)
		if err != nil {
			if err == io.EOF {
				if framesRead == 0 && startupRetries < maxStartupRetries {
					startupRetries++
					time.Sleep(100 * time.Millisecond)
					continue
				}
				if framesRead > 0 {
					return nil
				}
				return fmt.Errorf("no frames received from ffmpeg (waited %.1fs)", float64(startupRetries)*0.1)
			}
			return err
		}

		// Read until JPEG end marker: FF D9
		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil // stream ended mid-frame
			}
			return err
		}

		if len(frameData) > 0 {
			framesRead++
			if err := callback(frameData); err != nil {
				slog.Warn("frame callback error", "error", err)
			}
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
