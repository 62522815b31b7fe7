// Package ffmpeg implements the video sink as an ffmpeg child process fed
// PNG frames over stdin. Frames arrive at a variable rate (only when
// captured), so the container carries the nominal input rate while actual
// sparsity shows up as repeated content on playback.
package ffmpeg

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"screentrail/internal/grab"
	"screentrail/internal/sink"
)

const (
	writeRetries    = 3
	writeRetryDelay = 100 * time.Millisecond
)

// Options configure the encoder child process. Zero values get defaults.
type Options struct {
	FFmpegPath   string        // binary path; empty = look up "ffmpeg" in PATH
	FPS          float64       // nominal input rate (default 1)
	Codec        string        // default libx264
	Preset       string        // default ultrafast
	CRF          int           // default 23
	WriteTimeout time.Duration // per-frame write deadline; 0 = unbounded
}

// Sink pipes frames into ffmpeg. Safe for one writer; WriteFrame order is
// preserved because writes are serialized under the mutex.
type Sink struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *os.File
	closed  bool
	timeout time.Duration
	log     *slog.Logger
	path    string
}

// New spawns the encoder writing to path. The caller must Close the sink
// to finish the container.
func New(path string, opts Options, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bin := opts.FFmpegPath
	if bin == "" {
		found, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		bin = found
	}
	if opts.FPS <= 0 {
		opts.FPS = 1
	}
	if opts.Codec == "" {
		opts.Codec = "libx264"
	}
	if opts.Preset == "" {
		opts.Preset = "ultrafast"
	}
	if opts.CRF <= 0 {
		opts.CRF = 23
	}

	args := []string{
		"-f", "image2pipe",
		"-vcodec", "png",
		"-r", strconv.FormatFloat(opts.FPS, 'g', -1, 64),
		"-i", "-",
		"-vf", "pad=width=ceil(iw/2)*2:height=ceil(ih/2)*2",
		"-vcodec", opts.Codec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-pix_fmt", "yuv420p",
		"-y", path,
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdin = pr
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to spawn ffmpeg: %w", err)
	}
	// Child holds its own copy of the read end.
	pr.Close()

	logger.Debug("ffmpeg started", "path", path, "args", args)
	return &Sink{
		cmd:     cmd,
		stdin:   pw,
		timeout: opts.WriteTimeout,
		log:     logger,
		path:    path,
	}, nil
}

// WriteFrame encodes the frame as PNG and writes it to the encoder's
// stdin, retrying transient failures a bounded number of times. A write
// exceeding the configured deadline returns sink.ErrWriteTimeout.
func (s *Sink) WriteFrame(f *grab.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, f.RGBA()); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if s.timeout > 0 {
		_ = s.stdin.SetWriteDeadline(time.Now().Add(s.timeout))
		defer s.stdin.SetWriteDeadline(time.Time{})
	}

	var err error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		if _, err = s.stdin.Write(buf.Bytes()); err == nil {
			return nil
		}
		if os.IsTimeout(err) {
			return sink.ErrWriteTimeout
		}
		if attempt < writeRetries {
			s.log.Warn("frame write failed, retrying",
				"attempt", attempt, "err", err)
			time.Sleep(writeRetryDelay)
		}
	}
	return fmt.Errorf("failed to write frame to ffmpeg: %w", err)
}

// Close signals EOF on stdin and waits for the encoder to finalize the
// container. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stdin := s.stdin
	s.mu.Unlock()

	closeErr := stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited with error: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close encoder pipe: %w", closeErr)
	}
	s.log.Info("video file finalized", "path", s.path)
	return nil
}

// Path returns the output file the encoder writes to.
func (s *Sink) Path() string { return s.path }
