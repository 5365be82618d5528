package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `partition, sequence_id, actor_id, actor_name, module, action, description,
	source_ip, request_method, request_target, request_id, request_params,
	outcome_status, error_message, duration_ns, created_at, prev_hash, hash`

const filterClause = `
	WHERE ($1::bigint IS NULL OR actor_id = $1)
	  AND ($2::text IS NULL OR actor_name = $2)
	  AND ($3::text IS NULL OR module = $3)
	  AND ($4::text IS NULL OR action = $4)
	  AND ($5::text IS NULL OR outcome_status = $5)
	  AND ($6::text IS NULL OR partition = $6)
	  AND ($7::timestamptz IS NULL OR created_at >= $7)
	  AND ($8::timestamptz IS NULL OR created_at < $8)
	ORDER BY partition, sequence_id`

// Rejected reports whether err is a refusal the store repeats on every
// attempt: SQLSTATE class 22 (data exception) or 23 (integrity violation).
func Rejected(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}

// Repository persists operation log entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts e. Re-appending the same (partition, sequence_id) is a no-op
// so spill replays are idempotent.
func (r *Repository) Append(ctx context.Context, e Entry) error {
	params := e.Params
	if params == nil {
		params = []Param{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("audit: encode params: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO operation_logs (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (partition, sequence_id) DO NOTHING`,
		e.Partition, e.SequenceID, e.ActorID, e.ActorName, e.Module, e.Action, e.Description,
		e.SourceIP, e.RequestMethod, e.RequestTarget, e.RequestID, rawParams,
		string(e.Outcome), e.ErrorMessage, int64(e.Duration), e.CreatedAt, e.PrevHash, e.Hash)
	if err != nil {
		return fmt.Errorf("audit: append %s/%d: %w", e.Partition, e.SequenceID, err)
	}
	return nil
}

// LastEntry returns the highest sequenced entry of partition.
func (r *Repository) LastEntry(ctx context.Context, partition string) (Entry, bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM operation_logs
		WHERE partition = $1 ORDER BY sequence_id DESC LIMIT 1`, partition)
	if err != nil {
		return Entry{}, false, fmt.Errorf("audit: last entry: %w", err)
	}
	entry, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// QueryWindow returns one window of matching entries.
func (r *Repository) QueryWindow(ctx context.Context, arg QueryParams) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM operation_logs`+filterClause+`
		OFFSET $9 LIMIT $10`,
		arg.ActorID, arg.ActorName, arg.Module, arg.Action, arg.Outcome, arg.Partition,
		arg.FromAt, arg.ToAt, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, fmt.Errorf("audit: query window: %w", err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

// QueryAll returns every matching entry.
func (r *Repository) QueryAll(ctx context.Context, arg QueryParams) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM operation_logs`+filterClause,
		arg.ActorID, arg.ActorName, arg.Module, arg.Action, arg.Outcome, arg.Partition,
		arg.FromAt, arg.ToAt)
	if err != nil {
		return nil, fmt.Errorf("audit: query all: %w", err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

// ListPartitions returns the partitions with entries created at or after since.
func (r *Repository) ListPartitions(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT partition FROM operation_logs WHERE created_at >= $1 ORDER BY partition`, since)
	if err != nil {
		return nil, fmt.Errorf("audit: list partitions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e         Entry
		rawParams []byte
		outcome   string
		duration  int64
	)
	err := row.Scan(&e.Partition, &e.SequenceID, &e.ActorID, &e.ActorName, &e.Module, &e.Action, &e.Description,
		&e.SourceIP, &e.RequestMethod, &e.RequestTarget, &e.RequestID, &rawParams,
		&outcome, &e.ErrorMessage, &duration, &e.CreatedAt, &e.PrevHash, &e.Hash)
	if err != nil {
		return Entry{}, err
	}
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &e.Params); err != nil {
			return Entry{}, fmt.Errorf("audit: decode params: %w", err)
		}
	}
	if e.Params == nil {
		e.Params = []Param{}
	}
	e.Outcome = Outcome(outcome)
	e.Duration = time.Duration(duration)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
