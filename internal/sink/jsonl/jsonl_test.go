package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentrail/internal/record"
	"screentrail/internal/sink"
)

func TestAppendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	segs := []record.Segment{
		{StartTime: base, EndTime: base.Add(30 * time.Second), AppName: "VSCode", WindowTitle: "main.go", IsCaptured: true},
		{StartTime: base.Add(30 * time.Second), EndTime: base.Add(90 * time.Second), AppName: "Spotify", WindowTitle: "Spotify Free", IsCaptured: false},
	}
	for _, seg := range segs {
		require.NoError(t, s.Append(seg))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []record.Segment
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var seg record.Segment
		require.NoError(t, json.Unmarshal(sc.Bytes(), &seg), "every line must be a complete JSON object")
		got = append(got, seg)
	}
	require.NoError(t, sc.Err())

	require.Len(t, got, len(segs))
	for i := range segs {
		assert.True(t, segs[i].StartTime.Equal(got[i].StartTime))
		assert.True(t, segs[i].EndTime.Equal(got[i].EndTime))
		assert.Equal(t, segs[i].AppName, got[i].AppName)
		assert.Equal(t, segs[i].WindowTitle, got[i].WindowTitle)
		assert.Equal(t, segs[i].IsCaptured, got[i].IsCaptured)
	}
}

func TestAppendUsesSnakeCaseFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(record.Segment{
		StartTime: base, EndTime: base.Add(time.Second),
		AppName: "Chrome", WindowTitle: "Docs", IsCaptured: true,
	}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"start_time", "end_time", "app_name", "window_title", "is_captured"} {
		assert.Contains(t, fields, key)
	}
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	err = s.Append(record.Segment{AppName: "Chrome"})
	assert.ErrorIs(t, err, sink.ErrClosed)
}

func TestNewAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(record.Segment{StartTime: base, EndTime: base.Add(time.Second), AppName: "A", WindowTitle: "1", IsCaptured: true}))
	require.NoError(t, s.Close())

	// Reopening must not truncate previously written lines.
	s, err = New(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(record.Segment{StartTime: base.Add(time.Second), EndTime: base.Add(2 * time.Second), AppName: "B", WindowTitle: "2", IsCaptured: true}))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}
