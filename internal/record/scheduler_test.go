package record

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentrail/internal/blacklist"
	"screentrail/internal/grab"
	"screentrail/internal/sink"
)

// --- fakes ---

type fakeProbe struct {
	obs Observation
	err error
}

func (p *fakeProbe) Probe() (Observation, error) {
	if p.err != nil {
		return Observation{}, p.err
	}
	return p.obs, nil
}

type fakeFrames struct {
	frame *grab.Frame
	err   error
	grabs int
}

func (f *fakeFrames) Grab(ctx context.Context) (*grab.Frame, error) {
	f.grabs++
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

type fakeVideo struct {
	writes int
	err    error
}

func (v *fakeVideo) WriteFrame(f *grab.Frame) error {
	if v.err != nil {
		return v.err
	}
	v.writes++
	return nil
}

type fakeLog struct {
	segs     []Segment
	failures int // number of calls to fail before succeeding
	calls    int
}

func (l *fakeLog) Append(seg Segment) error {
	l.calls++
	if l.failures > 0 {
		l.failures--
		return errors.New("disk full")
	}
	l.segs = append(l.segs, seg)
	return nil
}

func testFrame(c byte) *grab.Frame {
	pix := make([]byte, 8*8*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c, c, c, 0xff
	}
	return &grab.Frame{Pix: pix, Width: 8, Height: 8}
}

// --- harness ---

type harness struct {
	probe  *fakeProbe
	frames *fakeFrames
	video  *fakeVideo
	logs   *fakeLog
	sched  *Scheduler
	now    time.Time
}

func newHarness() *harness {
	h := &harness{
		probe:  &fakeProbe{obs: Observation{AppName: "VSCode", WindowTitle: "main.rs"}},
		frames: &fakeFrames{frame: testFrame(10)},
		video:  &fakeVideo{},
		logs:   &fakeLog{},
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	h.sched = NewScheduler(Options{
		MonitorID: 0,
		Probe:     h.probe,
		Frames:    h.frames,
		Blacklist: blacklist.New([]string{"spotify", "slack"}, []string{"private", "incognito"}),
		Video:     h.video,
		Log:       h.logs,

		LogAppendRetries: 2,
		LogRetryDelay:    time.Millisecond,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) tick(t *testing.T) Verdict {
	t.Helper()
	v, err := h.sched.Tick(context.Background(), h.now)
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	return v
}

func (h *harness) switchTo(app, title string) {
	h.probe.err = nil
	h.probe.obs = Observation{AppName: app, WindowTitle: title}
}

// --- scenario tests ---

func TestScenarioThreeApplications(t *testing.T) {
	h := newHarness()
	start := h.now

	for i := 0; i < 930; i++ {
		h.tick(t)
	}
	h.switchTo("Chrome", "Docs")
	for i := 0; i < 30; i++ {
		h.tick(t)
	}
	h.switchTo("Spotify", "Spotify Free")
	for i := 0; i < 840; i++ {
		v := h.tick(t)
		assert.Equal(t, VerdictSkippedBlocked, v)
	}
	require.NoError(t, h.sched.Flush(context.Background(), h.now))

	segs := h.logs.segs
	require.Len(t, segs, 3)
	assert.Equal(t, "VSCode", segs[0].AppName)
	assert.Equal(t, "Chrome", segs[1].AppName)
	assert.Equal(t, "Spotify", segs[2].AppName)
	assert.True(t, segs[0].IsCaptured)
	assert.True(t, segs[1].IsCaptured)
	assert.False(t, segs[2].IsCaptured)

	// Contiguous timestamps covering the whole run.
	assert.Equal(t, start, segs[0].StartTime)
	assert.Equal(t, segs[0].EndTime, segs[1].StartTime)
	assert.Equal(t, segs[1].EndTime, segs[2].StartTime)
	assert.Equal(t, h.now, segs[2].EndTime)

	var total time.Duration
	for _, s := range segs {
		total += s.Duration()
	}
	assert.Equal(t, h.now.Sub(start), total)

	// Static screen content: one frame per allowed segment.
	assert.Equal(t, 2, h.video.writes)
}

func TestScenarioUnchangedFrames(t *testing.T) {
	h := newHarness()

	captured, skipped := 0, 0
	for i := 0; i < 10; i++ {
		switch h.tick(t) {
		case VerdictCaptured:
			captured++
		case VerdictSkippedUnchanged:
			skipped++
		}
	}
	assert.Equal(t, 1, captured)
	assert.Equal(t, 9, skipped)
	assert.Equal(t, 1, h.video.writes)
}

func TestScenarioProbeFailureSandwich(t *testing.T) {
	h := newHarness()

	h.tick(t)
	h.probe.err = errors.New("window info unavailable")
	v := h.tick(t)
	assert.NotEqual(t, VerdictSkippedBlocked, v, "unknown pair is not blacklisted")
	h.probe.err = nil
	h.tick(t)
	require.NoError(t, h.sched.Flush(context.Background(), h.now))

	segs := h.logs.segs
	require.Len(t, segs, 3, "probe gap must stay visible as its own segment")
	assert.Equal(t, "VSCode", segs[0].AppName)
	assert.Equal(t, UnknownApp, segs[1].AppName)
	assert.Equal(t, UnknownTitle, segs[1].WindowTitle)
	assert.True(t, segs[1].IsCaptured)
	assert.Equal(t, "VSCode", segs[2].AppName)
}

func TestScenarioShutdownMidSegment(t *testing.T) {
	h := newHarness()

	for i := 0; i < 5; i++ {
		h.tick(t)
	}
	shutdown := h.now.Add(300 * time.Millisecond)
	require.NoError(t, h.sched.Flush(context.Background(), shutdown))

	require.Len(t, h.logs.segs, 1)
	assert.Equal(t, shutdown, h.logs.segs[0].EndTime)

	// No further sink calls after the final flush.
	calls, writes := h.logs.calls, h.video.writes
	require.NoError(t, h.sched.Flush(context.Background(), shutdown.Add(time.Minute)))
	assert.Equal(t, calls, h.logs.calls)
	assert.Equal(t, writes, h.video.writes)
}

// --- property tests ---

func TestFirstFrameCapturedAfterBlockedSpan(t *testing.T) {
	h := newHarness()

	assert.Equal(t, VerdictCaptured, h.tick(t))
	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))

	h.switchTo("Spotify", "Spotify Free")
	assert.Equal(t, VerdictSkippedBlocked, h.tick(t))

	// Same screen content as before the blocked span: the reference
	// fingerprint must not have survived it.
	h.switchTo("VSCode", "main.rs")
	assert.Equal(t, VerdictCaptured, h.tick(t))
	assert.Equal(t, 2, h.video.writes)
}

func TestBlockedTicksNeverTouchFrameSource(t *testing.T) {
	h := newHarness()
	h.switchTo("Slack", "general")

	for i := 0; i < 5; i++ {
		assert.Equal(t, VerdictSkippedBlocked, h.tick(t))
	}
	assert.Zero(t, h.frames.grabs, "blocked ticks must not inspect frames")
	assert.Zero(t, h.video.writes)
}

func TestBlockedTitleOpensUncapturedSegment(t *testing.T) {
	h := newHarness()
	h.switchTo("Firefox", "Private Browsing")

	h.tick(t)
	require.NoError(t, h.sched.Flush(context.Background(), h.now))
	require.Len(t, h.logs.segs, 1)
	assert.False(t, h.logs.segs[0].IsCaptured)
}

func TestFrameAcquisitionFailureIsUnchangedTick(t *testing.T) {
	h := newHarness()

	h.tick(t)
	h.frames.err = grab.ErrNoFrame
	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))
	assert.Empty(t, h.logs.segs, "a failed grab must not force a segment boundary")

	// Content unchanged once frames come back: still no second write.
	h.frames.err = nil
	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))
	assert.Equal(t, 1, h.video.writes)
}

func TestContentChangeCapturesAgain(t *testing.T) {
	h := newHarness()

	assert.Equal(t, VerdictCaptured, h.tick(t))
	h.frames.frame = testFrame(200)
	assert.Equal(t, VerdictCaptured, h.tick(t))
	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))
	assert.Equal(t, 2, h.video.writes)
}

// --- error policy tests ---

func TestLogAppendRetriesThenSucceeds(t *testing.T) {
	h := newHarness()
	h.logs.failures = 1

	h.tick(t)
	h.switchTo("Chrome", "Docs")
	h.tick(t)

	require.Len(t, h.logs.segs, 1)
	assert.Equal(t, 2, h.logs.calls, "first attempt failed, retry succeeded")
}

func TestLogAppendPersistentFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.logs.failures = 100

	h.tick(t)
	h.switchTo("Chrome", "Docs")
	_, err := h.sched.Tick(context.Background(), h.now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogSinkFailed)
}

func TestEncodeTimeoutSkipsTick(t *testing.T) {
	h := newHarness()
	h.video.err = sink.ErrWriteTimeout

	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))
	assert.Equal(t, VerdictSkippedUnchanged, h.tick(t))
	assert.Zero(t, h.video.writes)

	// Backpressure cleared: the frame is still pending capture.
	h.video.err = nil
	assert.Equal(t, VerdictCaptured, h.tick(t))
}

func TestSustainedEncodeFailureStopsSession(t *testing.T) {
	h := newHarness()
	h.sched.opts.MaxEncodeFailures = 3
	h.video.err = errors.New("broken pipe")

	var err error
	for i := 0; i < 3; i++ {
		_, err = h.sched.Tick(context.Background(), h.now)
		h.now = h.now.Add(time.Second)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVideoSinkFailed)
}

func TestEncodeFailureCounterResetsOnSuccess(t *testing.T) {
	h := newHarness()
	h.sched.opts.MaxEncodeFailures = 2
	h.video.err = errors.New("broken pipe")

	_, err := h.sched.Tick(context.Background(), h.now)
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)

	h.video.err = nil
	assert.Equal(t, VerdictCaptured, h.tick(t))

	h.video.err = errors.New("broken pipe")
	h.frames.frame = testFrame(99)
	_, err = h.sched.Tick(context.Background(), h.now)
	require.NoError(t, err, "counter must reset after a successful write")
}

// --- pause and loop tests ---

func TestPauseClosesOpenSegment(t *testing.T) {
	h := newHarness()

	h.tick(t)
	h.tick(t)

	h.sched.SetPaused(true)
	h.sched.clock = func() time.Time { return h.now }
	require.NoError(t, h.sched.step(context.Background()))
	require.Len(t, h.logs.segs, 1, "pause flushes the open segment")

	require.NoError(t, h.sched.step(context.Background()))
	assert.Len(t, h.logs.segs, 1, "paused ticks are no-ops once flushed")

	h.sched.SetPaused(false)
	assert.Equal(t, VerdictCaptured, h.tick(t), "resume starts a fresh segment and captures its first frame")
}

func TestRunFlushesOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	require.Len(t, h.logs.segs, 1, "open segment is flushed exactly once on shutdown")
	assert.Equal(t, "VSCode", h.logs.segs[0].AppName)
	assert.Equal(t, 1, h.video.writes)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness()
	h.tick(t)
	h.tick(t)

	st := h.sched.Status()
	assert.Equal(t, uint64(2), st.Ticks)
	assert.Equal(t, uint64(1), st.FramesWritten)
	assert.Equal(t, "VSCode", st.CurrentApp)
	assert.Equal(t, "main.rs", st.CurrentTitle)
	assert.True(t, st.IsCaptured)
	assert.False(t, st.Paused)
}
