package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	claimedSuffix = ".claimed"
	deadSuffix    = ".dead"
)

// FileSpill is a durable local fallback for entries the store refused. It
// writes one JSON document per line and fsyncs every write.
type FileSpill struct {
	path string
	mu   sync.Mutex
}

// NewFileSpill returns a spill rooted at path. The directory is created on
// first write.
func NewFileSpill(path string) *FileSpill {
	return &FileSpill{path: path}
}

// Path returns the active spill file path.
func (s *FileSpill) Path() string {
	return s.path
}

// Write appends e to the spill file.
func (s *FileSpill) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendSpillLine(s.path, e)
}

// DeadPath returns the file holding entries the store rejected during replay.
func (s *FileSpill) DeadPath() string {
	return s.path + deadSuffix
}

// LastEntry returns the highest sequenced spilled entry of partition across
// the active, claimed and dead-letter files.
func (s *FileSpill) LastEntry(partition string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		last  Entry
		found bool
	)
	for _, path := range []string{s.path + deadSuffix, s.path + claimedSuffix, s.path} {
		entries, err := readSpillFile(path)
		if err != nil {
			return Entry{}, false, err
		}
		for _, e := range entries {
			if e.Partition == partition && (!found || e.SequenceID > last.SequenceID) {
				last, found = e, true
			}
		}
	}
	return last, found, nil
}

// ReadAll returns the entries currently in the active file.
func (s *FileSpill) ReadAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readSpillFile(s.path)
}

// claim moves the active file aside so new spills do not race the replay. A
// claimed file left by a failed replay is returned first.
func (s *FileSpill) claim() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := s.path + claimedSuffix
	if _, err := os.Stat(claimed); err == nil {
		return claimed, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(s.path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("audit: claim spill: %w", err)
	}
	return claimed, nil
}

// Appender is the write side of the log store.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Rejection is a spilled entry the store refused permanently.
type Rejection struct {
	Partition  string
	SequenceID int64
	Err        error
}

// ReplayReport summarises a replay run.
type ReplayReport struct {
	Replayed int
	Dead     []Rejection
	Pending  bool
}

// Replay appends spilled entries to store. Entries the store rejects
// permanently move to the dead-letter file and the run continues. On any
// other failure the claimed file is rewritten to hold only the entries not
// yet appended and is kept for the next run.
func (s *FileSpill) Replay(ctx context.Context, store Appender) (ReplayReport, error) {
	var report ReplayReport
	path, err := s.claim()
	if err != nil || path == "" {
		return report, err
	}
	entries, err := readSpillFile(path)
	if err != nil {
		return report, err
	}
	for i, e := range entries {
		err := store.Append(ctx, e)
		if err == nil {
			report.Replayed++
			continue
		}
		if Rejected(err) {
			deadErr := s.deadLetter(e)
			if deadErr == nil {
				report.Dead = append(report.Dead, Rejection{Partition: e.Partition, SequenceID: e.SequenceID, Err: err})
				continue
			}
			err = errors.Join(err, deadErr)
		}
		report.Pending = true
		if keepErr := writeSpillFile(path, entries[i:]); keepErr != nil {
			err = errors.Join(err, keepErr)
		}
		return report, fmt.Errorf("audit: replay %s/%d: %w", e.Partition, e.SequenceID, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return report, err
	}
	_, statErr := os.Stat(s.path)
	report.Pending = statErr == nil
	return report, nil
}

func (s *FileSpill) deadLetter(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendSpillLine(s.path+deadSuffix, e)
}

func appendSpillLine(path string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode spill entry: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("audit: spill dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open spill: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: write spill: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: sync spill: %w", err)
	}
	return f.Close()
}

// writeSpillFile replaces path with entries through a synced temp file.
func writeSpillFile(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: rewrite spill: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return fmt.Errorf("audit: rewrite spill: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: rewrite spill: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: rewrite spill: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audit: rewrite spill: %w", err)
	}
	return os.Rename(tmp, path)
}

func readSpillFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open spill: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: decode spill line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read spill: %w", err)
	}
	return entries, nil
}
