package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrRecorderStarted is returned by Start on a running recorder.
var ErrRecorderStarted = errors.New("audit: recorder already started")

// LogStore is the durable destination of entries.
type LogStore interface {
	Appender
	LastEntry(ctx context.Context, partition string) (Entry, bool, error)
}

// Spill is the local fallback sink.
type Spill interface {
	Write(e Entry) error
	LastEntry(partition string) (Entry, bool, error)
}

// Alert describes an entry that did not reach the store.
type Alert struct {
	Partition  string
	SequenceID int64
	Reason     string
	Err        error
	Spilled    bool
}

// AlertFunc receives operator alerts. It must not block.
type AlertFunc func(Alert)

// Stats is a snapshot of recorder counters.
type Stats struct {
	Submitted uint64
	Persisted uint64
	Spilled   uint64
	Attempts  uint64
	Buffered  int
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Store          LogStore
	Spill          Spill
	Partition      string
	BufferSize     int
	EnqueueTimeout time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	RetryCap       time.Duration
	PersistTimeout time.Duration
	OnAlert        AlertFunc
	Logger         *slog.Logger
	Metrics        *Metrics
	Now            func() time.Time
}

// Recorder assigns sequence ids and chain hashes in submission order, then
// persists entries through a single writer goroutine. Entries the store
// refuses go to the spill and raise an alert.
type Recorder struct {
	cfg RecorderConfig

	queue chan Entry
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises sequence assignment and buffer sends so the buffer
	// holds entries in sequence order.
	mu       sync.Mutex
	started  bool
	closed   bool
	nextSeq  int64
	lastHash string

	submitted atomic.Uint64
	persisted atomic.Uint64
	spilled   atomic.Uint64
	attempts  atomic.Uint64
}

// NewRecorder builds a recorder. Call Start before Record.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 50 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		cfg:    cfg,
		queue:  make(chan Entry, cfg.BufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Partition returns the sequence space this recorder writes to.
func (r *Recorder) Partition() string {
	return r.cfg.Partition
}

// Start seeds the sequence and chain head from the store and the spill, then
// launches the writer.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRecorderStarted
	}
	if r.cfg.Store != nil {
		seedCtx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
		last, ok, err := r.cfg.Store.LastEntry(seedCtx, r.cfg.Partition)
		cancel()
		if err != nil {
			return fmt.Errorf("audit: seed sequence: %w", err)
		}
		if ok {
			r.nextSeq, r.lastHash = last.SequenceID, last.Hash
		}
	}
	if r.cfg.Spill != nil {
		last, ok, err := r.cfg.Spill.LastEntry(r.cfg.Partition)
		if err != nil {
			return fmt.Errorf("audit: seed sequence from spill: %w", err)
		}
		if ok && last.SequenceID > r.nextSeq {
			r.nextSeq, r.lastHash = last.SequenceID, last.Hash
		}
	}
	r.started = true
	go r.run()
	r.cfg.Logger.Info("audit recorder started",
		slog.String("partition", r.cfg.Partition),
		slog.Int64("next_sequence", r.nextSeq+1))
	return nil
}

// Record submits an entry. It never fails the caller: when the buffer stays
// full past the enqueue timeout, or the recorder is closed, the entry is
// spilled synchronously instead. Text fields are cleaned of bytes the store
// refuses before the entry is hashed.
func (r *Recorder) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.cfg.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	e.Partition = r.cfg.Partition
	e.Params = Redact(e.Params)
	e = Sanitize(e)
	r.submitted.Add(1)
	r.cfg.Metrics.state(StateSubmitted)

	e, reason := r.enqueue(e)
	if reason != "" {
		r.spill(e, reason, nil)
	}
}

// enqueue assigns the sequence and chain hash and pushes e to the buffer.
// The lock covers only those steps. A non-empty reason means e was not
// buffered and the caller must spill it.
func (r *Recorder) enqueue(e Entry) (Entry, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	e.SequenceID = r.nextSeq
	e.PrevHash = r.lastHash
	e.Hash = ComputeHash(e)
	r.lastHash = e.Hash

	if r.closed || !r.started {
		return e, "recorder not running"
	}
	select {
	case r.queue <- e:
		r.buffered()
		return e, ""
	default:
	}
	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case r.queue <- e:
		r.buffered()
		return e, ""
	case <-timer.C:
		return e, "buffer full"
	}
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Persisted: r.persisted.Load(),
		Spilled:   r.spilled.Load(),
		Attempts:  r.attempts.Load(),
		Buffered:  len(r.queue),
	}
}

// Close stops intake and waits for the writer to drain the buffer. When ctx
// expires first, in-flight retries are abandoned and what remains is spilled.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	started := r.started
	r.mu.Unlock()
	if !started {
		r.cancel()
		return nil
	}

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

func (r *Recorder) buffered() {
	r.cfg.Metrics.state(StateBuffered)
	r.cfg.Metrics.setDepth(len(r.queue))
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.cfg.Metrics.setDepth(len(r.queue))
		r.persist(e)
	}
}

func (r *Recorder) persist(e Entry) {
	start := time.Now()
	defer func() { r.cfg.Metrics.observePersist(time.Since(start)) }()

	if r.ctx.Err() != nil || r.cfg.Store == nil {
		r.spill(e, "shutdown", r.ctx.Err())
		return
	}

	backoff := retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1),
		retry.WithCappedDuration(r.cfg.RetryCap, retry.NewExponential(r.cfg.RetryBase)))
	attempts := 0
	err := retry.Do(r.ctx, backoff, func(ctx context.Context) error {
		attempts++
		r.attempts.Add(1)
		r.cfg.Metrics.attempt()
		r.cfg.Metrics.state(StatePersistAttempted)
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
		defer cancel()
		if err := r.cfg.Store.Append(attemptCtx, e); err != nil {
			r.cfg.Logger.Warn("audit append failed",
				slog.String("partition", e.Partition),
				slog.Int64("sequence_id", e.SequenceID),
				slog.Int("attempt", attempts),
				slog.Any("error", err))
			if Rejected(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		r.persisted.Add(1)
		r.cfg.Metrics.state(StatePersisted)
		return
	}
	if Rejected(err) {
		r.spill(e, "persist rejected", err)
		return
	}
	r.spill(e, fmt.Sprintf("persist failed after %d attempts", attempts), err)
}

// spill writes e to the fallback sink and raises an alert. If the spill
// itself fails the full entry goes to the error log as the last resort.
func (r *Recorder) spill(e Entry, reason string, cause error) {
	alert := Alert{Partition: e.Partition, SequenceID: e.SequenceID, Reason: reason, Err: cause}
	var spillErr error
	if r.cfg.Spill == nil {
		spillErr = errors.New("audit: no spill configured")
	} else {
		spillErr = r.cfg.Spill.Write(e)
	}
	if spillErr == nil {
		alert.Spilled = true
		r.spilled.Add(1)
		r.cfg.Metrics.state(StateSpilled)
		r.cfg.Metrics.alert(reason)
		r.cfg.Logger.Error("audit entry spilled",
			slog.String("partition", e.Partition),
			slog.Int64("sequence_id", e.SequenceID),
			slog.String("reason", reason),
			slog.Any("error", cause))
	} else {
		alert.Err = errors.Join(cause, spillErr)
		r.cfg.Metrics.alert("spill failed")
		r.cfg.Logger.Error("audit entry lost to log only",
			slog.String("reason", reason),
			slog.Any("error", alert.Err),
			slog.Any("entry", e))
	}
	if r.cfg.OnAlert != nil {
		r.cfg.OnAlert(alert)
	}
}
