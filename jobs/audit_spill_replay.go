package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumenmart/backoffice/internal/audit"
	jobmetrics "github.com/lumenmart/backoffice/internal/jobs"
)

// Spill is the replayable side of the audit spill file.
type Spill interface {
	Replay(ctx context.Context, store audit.Appender) (audit.ReplayReport, error)
}

// SpillReplayJob drains this host's spill file into the log store.
type SpillReplayJob struct {
	Host    string
	Spill   Spill
	Store   audit.Appender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSpillReplayJob initialises the replay handler.
func NewSpillReplayJob(host string, spill Spill, store audit.Appender, logger *slog.Logger, metrics *jobmetrics.Metrics) *SpillReplayJob {
	return &SpillReplayJob{Host: host, Spill: spill, Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes one replay pass.
func (j *SpillReplayJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Spill == nil || j.Store == nil {
		return errors.New("spill replay: handler not configured")
	}
	var payload SpillReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("spill replay: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Host != "" && payload.Host != j.Host {
		return fmt.Errorf("spill replay: task for host %s reached %s: %w", payload.Host, j.Host, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAuditSpillReplay)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	logger := j.logger().With(slog.String("host", j.Host))
	report, err := j.Spill.Replay(ctx, j.Store)
	j.Metrics.AddReplayed(report.Replayed)
	j.Metrics.AddDeadLettered(len(report.Dead))
	for _, dead := range report.Dead {
		logger.Error("spilled audit entry rejected by store, moved to dead letter",
			slog.String("partition", dead.Partition),
			slog.Int64("sequence_id", dead.SequenceID),
			slog.Any("error", dead.Err))
	}
	if err != nil {
		logger.Error("spill replay failed",
			slog.Int("replayed", report.Replayed),
			slog.Any("error", err))
		return err
	}
	if report.Replayed > 0 || report.Pending || len(report.Dead) > 0 {
		logger.Info("spill replay completed",
			slog.Int("replayed", report.Replayed),
			slog.Int("dead_lettered", len(report.Dead)),
			slog.Bool("pending", report.Pending),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

func (j *SpillReplayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
