// Package jsonl implements the activity log sink: one self-contained JSON
// object per line, append-only for the duration of a session.
package jsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"screentrail/internal/record"
	"screentrail/internal/sink"
)

// Sink appends finalized activity segments to a JSONL file. Appends are
// serialized under the mutex, so line order equals call order.
type Sink struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
	path   string
}

func New(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log %s: %w", path, err)
	}
	return &Sink{f: f, path: path}, nil
}

// Append writes one segment as a single line. No line is ever rewritten.
func (s *Sink) Append(seg record.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	line, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to serialize segment: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("failed to append segment: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to sync activity log: %w", err)
	}
	return s.f.Close()
}

// Path returns the log file path.
func (s *Sink) Path() string { return s.path }
