package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidFilter marks a query filter that cannot be applied.
var ErrInvalidFilter = errors.New("audit: invalid filter")

// QueryParams is the repository-level form of Filters.
type QueryParams struct {
	ActorID    pgtype.Int8
	ActorName  pgtype.Text
	Module     pgtype.Text
	Action     pgtype.Text
	Outcome    pgtype.Text
	Partition  pgtype.Text
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	OffsetRows int32
	LimitRows  int32
}

// QueryRepository reads persisted entries.
type QueryRepository interface {
	QueryWindow(ctx context.Context, arg QueryParams) ([]Entry, error)
	QueryAll(ctx context.Context, arg QueryParams) ([]Entry, error)
}

// Service answers operation log queries.
type Service struct {
	repo QueryRepository
}

// NewService builds a query service.
func NewService(repo QueryRepository) *Service {
	return &Service{repo: repo}
}

// Query returns one page of entries ordered by sequence id.
func (s *Service) Query(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	params, err := buildParams(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params.OffsetRows = int32((page - 1) * pageSize)
	params.LimitRows = int32(pageSize + 1)

	entries, err := s.repo.QueryWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	if entries == nil {
		entries = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Export returns every entry matching filters, ignoring paging.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	params, err := buildParams(filters)
	if err != nil {
		return nil, err
	}
	return s.repo.QueryAll(ctx, params)
}

// VerifyPartition loads a partition and checks its hash chain.
func (s *Service) VerifyPartition(ctx context.Context, partition string) (int, error) {
	if strings.TrimSpace(partition) == "" {
		return 0, fmt.Errorf("%w: partition required", ErrInvalidFilter)
	}
	entries, err := s.Export(ctx, Filters{Partition: partition})
	if err != nil {
		return 0, err
	}
	return len(entries), VerifyChain(entries)
}

func buildParams(filters Filters) (QueryParams, error) {
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return QueryParams{}, fmt.Errorf("%w: from after to", ErrInvalidFilter)
	}
	switch filters.Outcome {
	case "", OutcomeSuccess, OutcomeFailure, OutcomeDenied, OutcomeError:
	default:
		return QueryParams{}, fmt.Errorf("%w: outcome %q", ErrInvalidFilter, filters.Outcome)
	}
	params := QueryParams{
		ActorName: optionalText(filters.ActorName),
		Module:    optionalText(filters.Module),
		Action:    optionalText(filters.Action),
		Outcome:   optionalText(string(filters.Outcome)),
		Partition: optionalText(filters.Partition),
		FromAt:    toPgTime(filters.From),
		ToAt:      toPgTime(filters.To),
	}
	if filters.ActorID > 0 {
		params.ActorID = pgtype.Int8{Int64: filters.ActorID, Valid: true}
	}
	return params, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
