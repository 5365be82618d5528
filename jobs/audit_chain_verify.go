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

const defaultLookbackHours = 24

// PartitionLister finds recently active partitions.
type PartitionLister interface {
	ListPartitions(ctx context.Context, since time.Time) ([]string, error)
}

// PartitionVerifier checks one partition's chain.
type PartitionVerifier interface {
	VerifyPartition(ctx context.Context, partition string) (int, error)
}

// ChainVerifyJob walks recent partitions and reports broken chains.
type ChainVerifyJob struct {
	Lister   PartitionLister
	Verifier PartitionVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewChainVerifyJob initialises the verification handler.
func NewChainVerifyJob(lister PartitionLister, verifier PartitionVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChainVerifyJob {
	return &ChainVerifyJob{
		Lister:   lister,
		Verifier: verifier,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle verifies every partition active within the lookback window. A broken
// chain is reported but does not fail the task; store errors do.
func (j *ChainVerifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Lister == nil || j.Verifier == nil {
		return errors.New("chain verify: handler not configured")
	}
	var payload ChainVerifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("chain verify: %v: %w", err, asynq.SkipRetry)
	}
	if payload.LookbackHours <= 0 {
		payload.LookbackHours = defaultLookbackHours
	}

	tracker := j.Metrics.Track(TaskAuditChainVerify)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.Int("lookback_hours", payload.LookbackHours))
	since := j.clock().Add(-time.Duration(payload.LookbackHours) * time.Hour)
	partitions, err := j.Lister.ListPartitions(ctx, since)
	if err != nil {
		logger.Error("list partitions", slog.Any("error", err))
		return err
	}

	broken := 0
	for _, partition := range partitions {
		count, verr := j.Verifier.VerifyPartition(ctx, partition)
		switch {
		case verr == nil:
		case errors.Is(verr, audit.ErrChainBroken):
			broken++
			j.Metrics.AddChainBreaks(partition, 1)
			logger.Warn("audit chain broken",
				slog.String("partition", partition),
				slog.Int("entries", count),
				slog.Any("error", verr))
		default:
			logger.Error("verify partition", slog.String("partition", partition), slog.Any("error", verr))
			return verr
		}
	}
	logger.Info("completed chain verification",
		slog.Int("partitions", len(partitions)),
		slog.Int("broken", broken))
	return nil
}

func (j *ChainVerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
