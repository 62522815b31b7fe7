package record

import "time"

// Tracker owns the currently open activity segment and decides segment
// boundaries. It is not safe for concurrent use; the scheduler's tick
// goroutine is the only caller.
type Tracker struct {
	open *Segment
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe folds one tick into the tracker. captured is the blacklist
// verdict for the observed pair (true = capture allowed) and is latched
// into the segment at open time.
//
// The returned segment, if non-nil, is the just-closed one and must be
// handed to the log sink before any later segment. boundary is true when
// this tick opened a new segment, which is the caller's cue to invalidate
// its change-detection fingerprint.
func (t *Tracker) Observe(obs Observation, captured bool) (closed *Segment, boundary bool) {
	now := obs.ObservedAt.UTC()

	if t.open == nil {
		t.open = &Segment{
			StartTime:   now,
			EndTime:     now,
			AppName:     obs.AppName,
			WindowTitle: obs.WindowTitle,
			IsCaptured:  captured,
		}
		return nil, true
	}

	if t.open.SamePair(obs.AppName, obs.WindowTitle) {
		t.open.EndTime = now
		return nil, false
	}

	done := *t.open
	done.EndTime = now
	t.open = &Segment{
		StartTime:   now,
		EndTime:     now,
		AppName:     obs.AppName,
		WindowTitle: obs.WindowTitle,
		IsCaptured:  captured,
	}
	return &done, true
}

// Flush finalizes the open segment at shutdown (or pause) time. The
// segment's end time becomes now, unless the last tick was later. After
// Flush the tracker holds no open segment.
func (t *Tracker) Flush(now time.Time) *Segment {
	if t.open == nil {
		return nil
	}
	done := *t.open
	if u := now.UTC(); u.After(done.EndTime) {
		done.EndTime = u
	}
	t.open = nil
	return &done
}

// Open returns a copy of the currently open segment, or nil.
func (t *Tracker) Open() *Segment {
	if t.open == nil {
		return nil
	}
	cp := *t.open
	return &cp
}
