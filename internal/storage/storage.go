package storage

import (
	"context"
	"time"

	"screentrail/internal/record"
)

// Storage is the cross-session segment index. The per-session JSONL file
// stays authoritative; this store exists so past activity is queryable
// without walking log files.
type Storage interface {
	Init(ctx context.Context) error
	SaveSegment(ctx context.Context, seg record.Segment) (int64, error)
	GetSegments(ctx context.Context, start, end time.Time) ([]record.Segment, error)
	Close() error
}
