package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/tabreuse/internal/reuse"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestHistoryWriterPartitionsByDate(t *testing.T) {
	dir := t.TempDir()
	clock := &stepClock{now: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	w := newHistoryWriter(dir, 16, 1, clock.Now)

	w.Record(reuse.Outcome{ID: "one", TabID: "T1", Action: reuse.ActionFocused})
	w.Record(reuse.Outcome{ID: "two", TabID: "T2", Action: reuse.ActionNavigated})
	require.Eventually(t, func() bool {
		got, err := ReadHistory(dir, "2026-03-01", 0)
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	clock.set(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
	w.Record(reuse.Outcome{ID: "three", TabID: "T3"})
	require.NoError(t, w.Close())

	day1, err := ReadHistory(dir, "2026-03-01", 0)
	require.NoError(t, err)
	require.Len(t, day1, 2)
	assert.Equal(t, "two", day1[0].ID, "newest first")
	assert.Equal(t, reuse.ActionNavigated, day1[0].Action)
	assert.Equal(t, "one", day1[1].ID)

	day2, err := ReadHistory(dir, "2026-03-02", 0)
	require.NoError(t, err)
	require.Len(t, day2, 1)
	assert.Equal(t, "three", day2[0].ID)
}

func TestHistoryWriterCloseIsIdempotent(t *testing.T) {
	w := NewHistoryWriter(t.TempDir(), 4, 1)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	w.Record(reuse.Outcome{ID: "late"})
}

func TestReadHistory(t *testing.T) {
	dir := t.TempDir()

	got, err := ReadHistory(dir, "2026-01-01", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	if _, err := ReadHistory(dir, "yesterday", 10); err == nil {
		t.Fatal("ReadHistory(bad date) = nil error; want error")
	}

	day := filepath.Join(dir, "2026-01-02")
	require.NoError(t, os.MkdirAll(day, 0o755))
	body := `{"id":"a","tab_id":"1"}` + "\n" + `not json` + "\n" + `{"id":"b","tab_id":"2"}` + "\n" + `{"id":"c","tab_id":"3"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(day, historyFile), []byte(body), 0o644))

	got, err = ReadHistory(dir, "2026-01-02", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("ReadHistory() ids = %s,%s; want c,b", got[0].ID, got[1].ID)
	}
}
