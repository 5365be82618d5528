package audit

import "time"

// Outcome is the result status recorded for an administrative operation.
type Outcome string

// Known outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Entry is one immutable operation log record.
type Entry struct {
	Partition     string        `json:"partition"`
	SequenceID    int64         `json:"sequence_id"`
	ActorID       int64         `json:"actor_id"`
	ActorName     string        `json:"actor_name"`
	Module        string        `json:"module"`
	Action        string        `json:"action"`
	Description   string        `json:"description,omitempty"`
	SourceIP      string        `json:"source_ip,omitempty"`
	RequestMethod string        `json:"request_method,omitempty"`
	RequestTarget string        `json:"request_target,omitempty"`
	RequestID     string        `json:"request_id,omitempty"`
	Params        []Param       `json:"request_params"`
	Outcome       Outcome       `json:"outcome_status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	CreatedAt     time.Time     `json:"created_at"`
	PrevHash      string        `json:"prev_hash"`
	Hash          string        `json:"hash"`
}

// State tracks an entry through the recorder.
type State int

// Entry lifecycle. Persisted and Spilled are terminal.
const (
	StateSubmitted State = iota
	StateBuffered
	StatePersistAttempted
	StatePersisted
	StateSpilled
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateBuffered:
		return "buffered"
	case StatePersistAttempted:
		return "persist_attempted"
	case StatePersisted:
		return "persisted"
	case StateSpilled:
		return "spilled"
	default:
		return "unknown"
	}
}

// Filters narrows the operation log query.
type Filters struct {
	ActorID   int64
	ActorName string
	Module    string
	Action    string
	Outcome   Outcome
	Partition string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// PagingInfo stores simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a page of entries.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
