package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabreuse/internal/reuse"
)

const (
	historyFile = "outcomes.jsonl"
	dateLayout  = "2006-01-02"
)

var _ reuse.Recorder = (*HistoryWriter)(nil)

// HistoryWriter appends reuse outcomes as JSON lines to
// baseDir/<UTC date>/outcomes.jsonl. Writes happen on a background goroutine;
// Record never blocks the coordinator.
type HistoryWriter struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	writeCh chan reuse.Outcome
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	closed      bool
}

func NewHistoryWriter(baseDir string, bufferSize, maxSizeMB int) *HistoryWriter {
	return newHistoryWriter(baseDir, bufferSize, maxSizeMB, time.Now)
}

func newHistoryWriter(baseDir string, bufferSize, maxSizeMB int, now func() time.Time) *HistoryWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	w := &HistoryWriter{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       now,
		writeCh:   make(chan reuse.Outcome, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Record queues o for writing. A full buffer drops the outcome.
func (w *HistoryWriter) Record(o reuse.Outcome) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.writeCh <- o:
	default:
		slog.Warn("history buffer full, dropping outcome", "outcome_id", o.ID)
	}
}

// Close stops the writer after flushing queued outcomes.
func (w *HistoryWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()

	// Drain whatever the loop left behind.
	for drained := false; !drained; {
		select {
		case o := <-w.writeCh:
			w.write(o)
		default:
			drained = true
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *HistoryWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case o := <-w.writeCh:
			w.write(o)
		case <-w.done:
			return
		}
	}
}

func (w *HistoryWriter) write(o reuse.Outcome) {
	data, err := json.Marshal(o)
	if err != nil {
		slog.Error("history marshal failed", "outcome_id", o.ID, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format(dateLayout)
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("history rotate failed", "date", date, "error", err)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("history write failed", "outcome_id", o.ID, "error", err)
	}
}

func (w *HistoryWriter) rotateForDate(date string) error {
	if w.logger != nil {
		w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, historyFile)
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 10,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Info("history file opened", "file", filename)
	return nil
}

// ReadHistory returns up to limit outcomes recorded on date (YYYY-MM-DD),
// newest first. A day without a file yields no outcomes. limit <= 0 means all.
func ReadHistory(baseDir, date string, limit int) ([]reuse.Outcome, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	f, err := os.Open(filepath.Join(baseDir, date, historyFile))
	if errors.Is(err, os.ErrNotExist) {
		return []reuse.Outcome{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []reuse.Outcome
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var o reuse.Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			slog.Debug("history skipping bad line", "date", date, "error", err)
			continue
		}
		all = append(all, o)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]reuse.Outcome, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}
