// Package metrics exposes Prometheus collectors for the capture pipeline.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	captureTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "ticks_total",
			Help:      "Number of capture ticks executed.",
		}, []string{"monitor"},
	)
	framesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "frames_written_total",
			Help:      "Number of frames submitted to the video sink.",
		}, []string{"monitor"},
	)
	skips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "skips_total",
			Help:      "Number of ticks whose capture was skipped, by reason.",
		}, []string{"monitor", "reason"},
	)
	encodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "encode_errors_total",
			Help:      "Number of failed frame writes to the video sink.",
		}, []string{"monitor"},
	)
	segmentsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "segments_total",
			Help:      "Number of finalized activity segments.",
		}, []string{"monitor", "captured"},
	)
	segmentSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screentrail",
			Subsystem: "capture",
			Name:      "segment_seconds_total",
			Help:      "Total wall-clock seconds covered by finalized segments.",
		}, []string{"monitor", "captured"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		captureTicks, framesWritten, skips, encodeErrors, segmentsClosed, segmentSeconds,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Skip reasons used by the scheduler.
const (
	SkipBlocked       = "blocked"
	SkipUnchanged     = "unchanged"
	SkipNoFrame       = "no_frame"
	SkipEncodeTimeout = "encode_timeout"
	SkipEncodeError   = "encode_error"
)

func label(monitorID int) string { return strconv.Itoa(monitorID) }

func TickObserved(monitorID int) {
	captureTicks.WithLabelValues(label(monitorID)).Inc()
}

func FrameWritten(monitorID int) {
	framesWritten.WithLabelValues(label(monitorID)).Inc()
}

func SkipObserved(monitorID int, reason string) {
	skips.WithLabelValues(label(monitorID), reason).Inc()
}

func EncodeErrorObserved(monitorID int) {
	encodeErrors.WithLabelValues(label(monitorID)).Inc()
}

func SegmentClosed(monitorID int, captured bool, d time.Duration) {
	c := strconv.FormatBool(captured)
	segmentsClosed.WithLabelValues(label(monitorID), c).Inc()
	segmentSeconds.WithLabelValues(label(monitorID), c).Add(d.Seconds())
}
