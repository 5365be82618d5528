package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenmart/backoffice/internal/audit"
	jobmetrics "github.com/lumenmart/backoffice/internal/jobs"
)

type memoryAppender struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
	reject  int64
}

func (m *memoryAppender) Append(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject != 0 && e.SequenceID == m.reject {
		return &pgconn.PgError{Code: "22P05", Message: "unsupported Unicode escape sequence"}
	}
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func spilledChain(t *testing.T, spill *audit.FileSpill, n int) {
	t.Helper()
	prev := ""
	for i := 1; i <= n; i++ {
		e := audit.Entry{
			Partition:  "node-a",
			SequenceID: int64(i),
			ActorID:    1,
			Module:     "role",
			Action:     "assign",
			Outcome:    audit.OutcomeSuccess,
			Params:     []audit.Param{},
			CreatedAt:  time.Date(2024, 5, 1, 8, 0, i, 0, time.UTC),
			PrevHash:   prev,
		}
		e.Hash = audit.ComputeHash(e)
		prev = e.Hash
		require.NoError(t, spill.Write(e))
	}
}

func TestSpillReplayJob(t *testing.T) {
	spill := audit.NewFileSpill(filepath.Join(t.TempDir(), "spill.jsonl"))
	spilledChain(t, spill, 3)
	store := &memoryAppender{}
	job := NewSpillReplayJob("node-a", spill, store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewSpillReplayTask("node-a")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, store.entries, 3)
	require.NoError(t, audit.VerifyChain(store.entries))

	// A second pass has nothing left.
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, store.entries, 3)
}

func TestSpillReplayJobRetriesOnStoreFailure(t *testing.T) {
	spill := audit.NewFileSpill(filepath.Join(t.TempDir(), "spill.jsonl"))
	spilledChain(t, spill, 2)
	store := &memoryAppender{err: errors.New("db down")}
	job := NewSpillReplayJob("node-a", spill, store, nil, nil)

	task, err := NewSpillReplayTask("node-a")
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	store.err = nil
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, store.entries, 2)
}

func TestSpillReplayJobDeadLettersRejectedEntries(t *testing.T) {
	spill := audit.NewFileSpill(filepath.Join(t.TempDir(), "spill.jsonl"))
	spilledChain(t, spill, 3)
	store := &memoryAppender{reject: 2}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	job := NewSpillReplayJob("node-a", spill, store, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewSpillReplayTask("node-a")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, store.entries, 2)
	assert.EqualValues(t, 3, store.entries[1].SequenceID)

	raw, err := os.ReadFile(spill.DeadPath())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"))
	assert.Contains(t, logs.String(), "moved to dead letter")
	assert.Contains(t, logs.String(), "sequence_id=2")
}

func TestSpillReplayJobRejectsForeignHost(t *testing.T) {
	job := NewSpillReplayJob("node-a", audit.NewFileSpill(filepath.Join(t.TempDir(), "s.jsonl")), &memoryAppender{}, nil, nil)
	task, err := NewSpillReplayTask("node-b")
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskAuditSpillReplay, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSpillReplayJobNotConfigured(t *testing.T) {
	var job *SpillReplayJob
	task, _ := NewSpillReplayTask("node-a")
	require.Error(t, job.Handle(context.Background(), task))
}

type stubPartitions struct {
	partitions []string
	listErr    error
	since      time.Time
	results    map[string]error
	verified   []string
}

func (s *stubPartitions) ListPartitions(ctx context.Context, since time.Time) ([]string, error) {
	s.since = since
	return s.partitions, s.listErr
}

func (s *stubPartitions) VerifyPartition(ctx context.Context, partition string) (int, error) {
	s.verified = append(s.verified, partition)
	return 10, s.results[partition]
}

func newChainJob(stub *stubPartitions) *ChainVerifyJob {
	job := NewChainVerifyJob(stub, stub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }
	return job
}

func TestChainVerifyJobReportsBreaksWithoutFailing(t *testing.T) {
	stub := &stubPartitions{
		partitions: []string{"node-a", "node-b"},
		results:    map[string]error{"node-b": fmt.Errorf("%w: gap between 4 and 6", audit.ErrChainBroken)},
	}
	task, err := NewChainVerifyTask(6)
	require.NoError(t, err)
	require.NoError(t, newChainJob(stub).Handle(context.Background(), task))

	assert.Equal(t, []string{"node-a", "node-b"}, stub.verified)
	assert.Equal(t, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC), stub.since)
}

func TestChainVerifyJobDefaultsLookback(t *testing.T) {
	stub := &stubPartitions{}
	task, err := NewChainVerifyTask(0)
	require.NoError(t, err)
	require.NoError(t, newChainJob(stub).Handle(context.Background(), task))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), stub.since)
}

func TestChainVerifyJobFailsOnStoreErrors(t *testing.T) {
	task, err := NewChainVerifyTask(1)
	require.NoError(t, err)

	listFail := &stubPartitions{listErr: errors.New("pool closed")}
	require.Error(t, newChainJob(listFail).Handle(context.Background(), task))

	verifyFail := &stubPartitions{
		partitions: []string{"node-a", "node-b"},
		results:    map[string]error{"node-a": errors.New("timeout")},
	}
	require.Error(t, newChainJob(verifyFail).Handle(context.Background(), task))
	assert.Equal(t, []string{"node-a"}, verifyFail.verified)
}

func TestTaskRouting(t *testing.T) {
	assert.Equal(t, "audit-spill:node-a", SpillQueue(" Node-A "))

	task, err := NewSpillReplayTask("node-a")
	require.NoError(t, err)
	assert.Equal(t, TaskAuditSpillReplay, task.Type())
	assert.JSONEq(t, `{"host":"node-a"}`, string(task.Payload()))

	task, err = NewChainVerifyTask(12)
	require.NoError(t, err)
	assert.Equal(t, TaskAuditChainVerify, task.Type())
	assert.JSONEq(t, `{"lookback_hours":12}`, string(task.Payload()))
}
