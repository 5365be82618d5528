package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAppender struct {
	mu      sync.Mutex
	entries []Entry
	failAt  int
	reject  map[int64]bool
}

func (m *memoryAppender) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject[e.SequenceID] {
		return fmt.Errorf("audit: append %s/%d: %w", e.Partition, e.SequenceID,
			&pgconn.PgError{Code: "22P05", Message: "unsupported Unicode escape sequence"})
	}
	if m.failAt > 0 && len(m.entries)+1 == m.failAt {
		return errors.New("db down")
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestFileSpillWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spill.jsonl")
	spill := NewFileSpill(path)

	chain := buildChain("node-a", 3)
	chain[0].Params = []Param{P("role", "R_FINANCE")}
	for _, e := range chain {
		require.NoError(t, spill.Write(e))
	}

	entries, err := spill.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, chain[0].Params, entries[0].Params)
	assert.True(t, chain[2].CreatedAt.Equal(entries[2].CreatedAt))
	require.NoError(t, VerifyChain(entries))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileSpillLastEntry(t *testing.T) {
	spill := NewFileSpill(filepath.Join(t.TempDir(), "spill.jsonl"))

	_, ok, err := spill.LastEntry("node-a")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, e := range buildChain("node-a", 4) {
		require.NoError(t, spill.Write(e))
	}
	require.NoError(t, spill.Write(mockEntry("node-b", 99, "role", "assign")))

	last, ok, err := spill.LastEntry("node-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 4, last.SequenceID)
}

func TestFileSpillReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	spill := NewFileSpill(path)
	for _, e := range buildChain("node-a", 3) {
		require.NoError(t, spill.Write(e))
	}

	store := &memoryAppender{}
	report, err := spill.Replay(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Replayed: 3}, report)
	assert.Len(t, store.entries, 3)

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(path + claimedSuffix)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSpillReplayNothingToDo(t *testing.T) {
	spill := NewFileSpill(filepath.Join(t.TempDir(), "spill.jsonl"))
	report, err := spill.Replay(context.Background(), &memoryAppender{})
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{}, report)
}

func TestFileSpillReplayKeepsClaimOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	spill := NewFileSpill(path)
	chain := buildChain("node-a", 4)
	for _, e := range chain[:3] {
		require.NoError(t, spill.Write(e))
	}

	store := &memoryAppender{failAt: 2}
	report, err := spill.Replay(context.Background(), store)
	require.Error(t, err)
	assert.True(t, report.Pending)
	assert.Equal(t, 1, report.Replayed)
	_, err = os.Stat(path + claimedSuffix)
	require.NoError(t, err)

	// New spills land in a fresh active file while the claim is pending.
	require.NoError(t, spill.Write(chain[3]))
	last, ok, err := spill.LastEntry("node-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 4, last.SequenceID)

	store.failAt = 0
	report, err = spill.Replay(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)
	assert.True(t, report.Pending)

	report, err = spill.Replay(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Replayed: 1}, report)
	// The claimed file kept only what had not been appended.
	assert.Len(t, store.entries, 4)
	require.NoError(t, VerifyChain(store.entries))
}

func TestFileSpillReplayDeadLettersRejectedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	spill := NewFileSpill(path)
	chain := buildChain("node-a", 4)
	for _, e := range chain[:3] {
		require.NoError(t, spill.Write(e))
	}

	store := &memoryAppender{reject: map[int64]bool{2: true}}
	report, err := spill.Replay(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)
	assert.False(t, report.Pending)
	require.Len(t, report.Dead, 1)
	assert.Equal(t, "node-a", report.Dead[0].Partition)
	assert.EqualValues(t, 2, report.Dead[0].SequenceID)
	assert.True(t, Rejected(report.Dead[0].Err))

	dead, err := readSpillFile(spill.DeadPath())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, chain[1].Hash, dead[0].Hash)
	_, err = os.Stat(path + claimedSuffix)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Later spills still drain and the sequence head accounts for the dead entry.
	require.NoError(t, spill.Write(chain[3]))
	report, err = spill.Replay(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Replayed: 1}, report)
	require.Len(t, store.entries, 3)
	assert.EqualValues(t, []int64{1, 3, 4}, []int64{store.entries[0].SequenceID, store.entries[1].SequenceID, store.entries[2].SequenceID})

	last, ok, err := spill.LastEntry("node-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, last.SequenceID)
}

func TestRejected(t *testing.T) {
	assert.True(t, Rejected(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "22021"})))
	assert.True(t, Rejected(&pgconn.PgError{Code: "23514"}))
	assert.False(t, Rejected(&pgconn.PgError{Code: "08006"}))
	assert.False(t, Rejected(&pgconn.PgError{Code: "40001"}))
	assert.False(t, Rejected(errors.New("connection refused")))
	assert.False(t, Rejected(nil))
}
