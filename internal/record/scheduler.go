// Package record implements the capture-gating and segmentation engine:
// the per-tick decision pipeline (blacklist check, change detection,
// capture decision) and the segment state machine that keeps the video
// stream and the activity log in agreement.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"screentrail/internal/blacklist"
	"screentrail/internal/diff"
	"screentrail/internal/grab"
	"screentrail/internal/metrics"
	"screentrail/internal/sink"
)

// WindowProbe yields the current foreground application and window title.
type WindowProbe interface {
	Probe() (Observation, error)
}

// FrameSource yields a raw frame snapshot on demand.
type FrameSource interface {
	Grab(ctx context.Context) (*grab.Frame, error)
}

// VideoSink accepts frames for encoding. Frame write order must equal
// submission order.
type VideoSink interface {
	WriteFrame(f *grab.Frame) error
}

// LogSink appends finalized segments durably, strictly in close order.
type LogSink interface {
	Append(seg Segment) error
}

// SegmentStore is the optional cross-session segment index. Failures are
// non-fatal; the JSONL log sink remains the authoritative artifact.
type SegmentStore interface {
	SaveSegment(ctx context.Context, seg Segment) (int64, error)
}

var (
	// ErrLogSinkFailed means a segment append failed after bounded retries.
	// Losing a segment boundary corrupts the video/log correlation, so the
	// session must stop.
	ErrLogSinkFailed = errors.New("segment log append failed")
	// ErrVideoSinkFailed means frame writes keep failing and the recording
	// session should stop rather than loop on a broken sink.
	ErrVideoSinkFailed = errors.New("video sink failing persistently")
)

const (
	defaultLogAppendRetries  = 3
	defaultLogRetryDelay     = 200 * time.Millisecond
	defaultMaxEncodeFailures = 5
)

// Options wire one monitor's capture pipeline together.
type Options struct {
	MonitorID int
	Probe     WindowProbe
	Frames    FrameSource
	Blacklist *blacklist.Matcher
	Video     VideoSink
	Log       LogSink
	Store     SegmentStore // may be nil

	LogAppendRetries  int           // append attempts before giving up (default 3)
	LogRetryDelay     time.Duration // delay between append attempts (default 200ms)
	MaxEncodeFailures int           // consecutive encode failures before stopping (default 5)

	Logger *slog.Logger
	Clock  func() time.Time // defaults to time.Now; tests inject a fake
}

// Scheduler drives one monitor's tick loop. All capture state (open
// segment, last captured fingerprint, counters) is owned by the scheduler
// and mutated only under its lock, from the tick goroutine.
type Scheduler struct {
	opts   Options
	log    *slog.Logger
	detect *diff.Detector
	clock  func() time.Time

	paused atomic.Bool

	mu          sync.Mutex
	tracker     *Tracker
	lastFP      *diff.Fingerprint
	ticks       uint64
	frames      uint64
	encodeFails int
	flushed     bool
}

func NewScheduler(opts Options) *Scheduler {
	if opts.LogAppendRetries <= 0 {
		opts.LogAppendRetries = defaultLogAppendRetries
	}
	if opts.LogRetryDelay <= 0 {
		opts.LogRetryDelay = defaultLogRetryDelay
	}
	if opts.MaxEncodeFailures <= 0 {
		opts.MaxEncodeFailures = defaultMaxEncodeFailures
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		opts:    opts,
		log:     logger.With("monitor", opts.MonitorID),
		detect:  diff.NewDetector(),
		clock:   clock,
		tracker: NewTracker(),
	}
}

// Tick runs one capture decision. The returned verdict is diagnostic; the
// externally visible effects are the video write and any log append. A
// non-nil error is fatal to the recording session.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	metrics.TickObserved(s.opts.MonitorID)

	obs, err := s.opts.Probe.Probe()
	if err != nil {
		// Probe gaps stay visible as their own Unknown segment instead of
		// being merged into a possibly-wrong neighbour.
		s.log.Debug("window probe failed", "err", err)
		obs = Unknown(now)
	} else {
		obs.ObservedAt = now
	}

	blocked := s.opts.Blacklist.Blocked(obs.AppName, obs.WindowTitle)

	closed, boundary := s.tracker.Observe(obs, !blocked)
	if closed != nil {
		if err := s.finalize(ctx, *closed); err != nil {
			return VerdictSkippedUnchanged, err
		}
	}
	if boundary {
		// First frame of any new segment is evaluated fresh. This also
		// covers returning from a blocked span: the reference fingerprint
		// never survives a segment opened for a blocked pair.
		s.lastFP = nil
	}

	if blocked {
		metrics.SkipObserved(s.opts.MonitorID, metrics.SkipBlocked)
		return VerdictSkippedBlocked, nil
	}

	frame, err := s.opts.Frames.Grab(ctx)
	if err != nil {
		s.log.Warn("frame acquisition failed", "err", err)
		metrics.SkipObserved(s.opts.MonitorID, metrics.SkipNoFrame)
		return VerdictSkippedUnchanged, nil
	}

	changed, fp := s.detect.HasChanged(frame, s.lastFP)
	if !changed {
		metrics.SkipObserved(s.opts.MonitorID, metrics.SkipUnchanged)
		return VerdictSkippedUnchanged, nil
	}

	if err := s.opts.Video.WriteFrame(frame); err != nil {
		if errors.Is(err, sink.ErrWriteTimeout) {
			// Backpressure: skip this tick's capture rather than drop the
			// frame silently mid-stream. Segment accounting is unaffected.
			s.log.Warn("frame write timed out, skipping tick")
			metrics.SkipObserved(s.opts.MonitorID, metrics.SkipEncodeTimeout)
			return VerdictSkippedUnchanged, nil
		}
		s.encodeFails++
		metrics.EncodeErrorObserved(s.opts.MonitorID)
		metrics.SkipObserved(s.opts.MonitorID, metrics.SkipEncodeError)
		s.log.Error("frame write failed", "err", err, "consecutive", s.encodeFails)
		if s.encodeFails >= s.opts.MaxEncodeFailures {
			return VerdictSkippedUnchanged, fmt.Errorf("%w: %d consecutive failures: %v",
				ErrVideoSinkFailed, s.encodeFails, err)
		}
		return VerdictSkippedUnchanged, nil
	}

	s.encodeFails = 0
	s.lastFP = &fp
	s.frames++
	metrics.FrameWritten(s.opts.MonitorID)
	return VerdictCaptured, nil
}

// finalize hands one closed segment to the log sink (bounded retries, then
// fatal) and mirrors it into the segment store (best effort). Caller holds
// s.mu.
func (s *Scheduler) finalize(ctx context.Context, seg Segment) error {
	var err error
	for attempt := 1; attempt <= s.opts.LogAppendRetries; attempt++ {
		if err = s.opts.Log.Append(seg); err == nil {
			break
		}
		s.log.Warn("segment append failed", "attempt", attempt, "err", err)
		if attempt < s.opts.LogAppendRetries {
			time.Sleep(s.opts.LogRetryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogSinkFailed, err)
	}

	metrics.SegmentClosed(s.opts.MonitorID, seg.IsCaptured, seg.Duration())
	s.log.Info("segment closed",
		"app", seg.AppName,
		"title", seg.WindowTitle,
		"captured", seg.IsCaptured,
		"duration", seg.Duration().Round(time.Second))

	if s.opts.Store != nil {
		if _, serr := s.opts.Store.SaveSegment(ctx, seg); serr != nil {
			s.log.Warn("segment store insert failed", "err", serr)
		}
	}
	return nil
}

// Flush finalizes whatever segment is open. Called once at shutdown, and
// on pause so the partition invariant holds per recording span.
func (s *Scheduler) Flush(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := s.tracker.Flush(now)
	s.lastFP = nil
	if seg == nil {
		return nil
	}
	return s.finalize(ctx, *seg)
}

// SetPaused pauses or resumes the tick pipeline. While paused, ticks make
// no probe, frame or sink calls; the open segment is flushed on the first
// paused tick.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused.Store(paused)
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Run executes the tick loop until ctx is cancelled, one tick per
// interval, first tick immediately. No tick starts after cancellation is
// observed; the open segment is flushed before returning.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.log.Info("capture loop starting", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.step(ctx); err != nil {
		s.flushOnExit()
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return s.flushOnExit()
		case <-ticker.C:
			if err := s.step(ctx); err != nil {
				s.flushOnExit()
				return err
			}
		}
	}
}

func (s *Scheduler) step(ctx context.Context) error {
	now := s.clock()
	if s.paused.Load() {
		if err := s.Flush(ctx, now); err != nil {
			return err
		}
		return nil
	}
	_, err := s.Tick(ctx, now)
	return err
}

func (s *Scheduler) flushOnExit() error {
	s.mu.Lock()
	if s.flushed {
		s.mu.Unlock()
		return nil
	}
	s.flushed = true
	s.mu.Unlock()

	// Detached context: the run context is already cancelled but the final
	// segment still has to reach the log sink.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx, s.clock()); err != nil {
		s.log.Error("final segment flush failed", "err", err)
		return fmt.Errorf("session artifacts may be inconsistent: %w", err)
	}
	s.log.Info("capture loop stopped")
	return nil
}

// Status is a point-in-time snapshot for the control socket.
type Status struct {
	MonitorID     int    `json:"monitor_id"`
	Ticks         uint64 `json:"ticks"`
	FramesWritten uint64 `json:"frames_written"`
	Paused        bool   `json:"paused"`
	CurrentApp    string `json:"current_app,omitempty"`
	CurrentTitle  string `json:"current_title,omitempty"`
	SegmentStart  string `json:"segment_start,omitempty"`
	IsCaptured    bool   `json:"is_captured,omitempty"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		MonitorID:     s.opts.MonitorID,
		Ticks:         s.ticks,
		FramesWritten: s.frames,
		Paused:        s.paused.Load(),
	}
	if open := s.tracker.Open(); open != nil {
		st.CurrentApp = open.AppName
		st.CurrentTitle = open.WindowTitle
		st.SegmentStart = open.StartTime.Format(time.RFC3339)
		st.IsCaptured = open.IsCaptured
	}
	return st
}
