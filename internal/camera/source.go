package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Capture is one snapshot handed to the monitoring pipeline.
type Capture struct {
	JPEG      []byte
	Timestamp time.Time
}

// Source produces camera snapshots. The agent does not control the
// camera itself; it only consumes JPEG bytes from a capture step.
type Source interface {
	Capture(ctx context.Context) (*Capture, error)
}

// NewSource builds the configured source implementation.
func NewSource(cfg config.CameraConfig, log *logger.Logger) (Source, error) {
	switch cfg.SourceType {
	case "exec":
		return NewExecSource(cfg, log), nil
	case "file":
		return NewFileSource(cfg.ImagePath, log), nil
	default:
		return nil, fmt.Errorf("unknown camera source type: %s", cfg.SourceType)
	}
}

// ExecSource invokes an external capture command (libcamera-still,
// raspistill, fswebcam, ...) that writes JPEG bytes to stdout.
type ExecSource struct {
	command string
	args    []string
	timeout time.Duration
	logger  *logger.Logger
}

// NewExecSource creates an exec-backed capture source.
func NewExecSource(cfg config.CameraConfig, log *logger.Logger) *ExecSource {
	return &ExecSource{
		command: cfg.CaptureCommand,
		args:    cfg.CaptureArgs,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  log.Named("camera-exec"),
	}
}

// Capture implements Source.
func (s *ExecSource) Capture(ctx context.Context) (*Capture, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, s.command, s.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("capture timed out: %w", callCtx.Err())
		}
		return nil, fmt.Errorf("capture command failed: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("capture command produced no output")
	}

	s.logger.Debug("Captured image",
		logger.Int("bytes", len(data)),
		logger.Duration("duration", time.Since(start)))

	return &Capture{JPEG: data, Timestamp: time.Now().UTC()}, nil
}

// FileSource reads the snapshot from a fixed path on every capture.
// Useful on the bench where another process refreshes the file.
type FileSource struct {
	path   string
	logger *logger.Logger
}

// NewFileSource creates a file-backed capture source.
func NewFileSource(path string, log *logger.Logger) *FileSource {
	return &FileSource{path: path, logger: log.Named("camera-file")}
}

// Capture implements Source.
func (s *FileSource) Capture(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return &Capture{JPEG: data, Timestamp: time.Now().UTC()}, nil
}

// DumpDebugImage writes the capture to the configured debug path for
// offline OCR tuning. Failures are the caller's to log; a failed dump
// never affects the monitoring cycle.
func DumpDebugImage(path string, capture *Capture) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create debug image dir: %w", err)
	}
	if err := os.WriteFile(path, capture.JPEG, 0o644); err != nil {
		return fmt.Errorf("failed to write debug image: %w", err)
	}
	return nil
}
