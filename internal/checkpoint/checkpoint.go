// Package checkpoint implements CheckpointStore: a
// durable key→text blob store with atomic write-to-temp-then-rename
// semantics, a current/previous/history layout on disk, and a per-key
// writer lock. It generalizes the teacher's file-persistence idiom
// (pkg/volume's directory lifecycle, pkg/security's WriteFile-to-disk
// pattern) to an atomic-rename guarantee: a successful
// write is visible in full or not at all, never partially.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
)

// HistoryEntry is one retained past version of a key's checkpoint.
type HistoryEntry struct {
	Timestamp time.Time
	Text      string
}

// Store is a durable key→text blob store with atomic writes.
type Store struct {
	baseDir         string
	historyMaxEntries int

	mu      sync.Mutex // guards the keyLocks map itself
	keyLocks map[string]*sync.Mutex
}

// New returns a Store rooted at baseDir, creating it if absent.
// historyMaxEntries bounds history() retention; 0 means unbounded.
func New(baseDir string, historyMaxEntries int) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to create base dir: %w", err)
	}
	return &Store{
		baseDir:           baseDir,
		historyMaxEntries: historyMaxEntries,
		keyLocks:          make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

func (s *Store) currentPath(key string) string  { return filepath.Join(s.baseDir, key+".current") }
func (s *Store) previousPath(key string) string { return filepath.Join(s.baseDir, key+".previous") }
func (s *Store) historyDir(key string) string    { return filepath.Join(s.baseDir, key+".history") }

// Write atomically replaces key's current checkpoint with text, rotating
// the prior current into previous and appending a timestamped record to
// history. Concurrent writes for the same key are serialized.
func (s *Store) Write(key, text string) error {
	timer := metrics.NewTimer()
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	logger := log.WithComponent("checkpoint")
	defer func() { timer.ObserveDuration(metrics.CheckpointWriteDuration) }()

	if err := os.MkdirAll(s.historyDir(key), 0o755); err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: create history dir: %v", gaiaerr.ErrUnavailable, err)
	}

	// Rotate current -> previous before the write. previous is overwritten
	// here even if the rename below later fails, but current is only ever
	// replaced by the rename (atomicity: read returns either the old or
	// the new text, never a partial one).
	if oldCurrent, err := os.ReadFile(s.currentPath(key)); err == nil {
		if err := os.WriteFile(s.previousPath(key), oldCurrent, 0o644); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("failed to rotate current into previous")
		}
	}

	tmp, err := os.CreateTemp(s.baseDir, key+".tmp-*")
	if err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: create temp file: %v", gaiaerr.ErrUnavailable, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: write temp file: %v", gaiaerr.ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: sync temp file: %v", gaiaerr.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: close temp file: %v", gaiaerr.ErrUnavailable, err)
	}

	if err := os.Rename(tmpPath, s.currentPath(key)); err != nil {
		os.Remove(tmpPath)
		metrics.CheckpointWritesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("checkpoint: %w: rename temp file: %v", gaiaerr.ErrUnavailable, err)
	}

	histPath := filepath.Join(s.historyDir(key), time.Now().UTC().Format("20060102T150405.000000000Z")+".txt")
	if err := os.WriteFile(histPath, []byte(text), 0o644); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("checkpoint written but history append failed")
	} else {
		s.enforceRetention(key)
	}

	metrics.CheckpointWritesTotal.WithLabelValues(key, "ok").Inc()
	return nil
}

// Read returns the latest current text for key, or "", false if never
// written.
func (s *Store) Read(key string) (string, bool) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.currentPath(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// History returns up to limit prior versions of key in reverse
// chronological order. limit <= 0 means unbounded.
func (s *Store) History(key string, limit int) ([]HistoryEntry, error) {
	entries, err := os.ReadDir(s.historyDir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: failed to list history: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	out := make([]HistoryEntry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.historyDir(key), name))
		if err != nil {
			continue
		}
		ts, err := time.Parse("20060102T150405.000000000Z.txt", name)
		if err != nil {
			ts = time.Time{}
		}
		out = append(out, HistoryEntry{Timestamp: ts, Text: string(data)})
	}
	return out, nil
}

// enforceRetention deletes the oldest history entries beyond
// historyMaxEntries. Monotonic: history never shrinks except through
// this bounded, count-based policy.
func (s *Store) enforceRetention(key string) {
	if s.historyMaxEntries <= 0 {
		return
	}

	entries, err := os.ReadDir(s.historyDir(key))
	if err != nil {
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.historyMaxEntries {
		return
	}

	sort.Strings(names) // ascending: oldest timestamps sort first
	excess := len(names) - s.historyMaxEntries
	for _, name := range names[:excess] {
		os.Remove(filepath.Join(s.historyDir(key), name))
	}
}
