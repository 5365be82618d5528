package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditSpillReplay re-ingests spilled operation log entries.
	TaskAuditSpillReplay = "audit:spill_replay"
	// TaskAuditChainVerify checks hash chains of recently active partitions.
	TaskAuditChainVerify = "audit:chain_verify"

	spillQueuePrefix = "audit-spill:"
)

// SpillQueue names the host-local queue that owns a spill file.
func SpillQueue(host string) string {
	return spillQueuePrefix + strings.ToLower(strings.TrimSpace(host))
}

// SpillReplayPayload identifies the spill to replay.
type SpillReplayPayload struct {
	Host string `json:"host"`
}

// NewSpillReplayTask builds a replay task routed to the host queue.
func NewSpillReplayTask(host string) (*asynq.Task, error) {
	data, err := json.Marshal(SpillReplayPayload{Host: host})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditSpillReplay, data, asynq.Queue(SpillQueue(host))), nil
}

// ChainVerifyPayload bounds a verification run.
type ChainVerifyPayload struct {
	LookbackHours int `json:"lookback_hours"`
}

// NewChainVerifyTask builds a chain verification task.
func NewChainVerifyTask(lookbackHours int) (*asynq.Task, error) {
	data, err := json.Marshal(ChainVerifyPayload{LookbackHours: lookbackHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditChainVerify, data, asynq.Queue(QueueDefault)), nil
}
