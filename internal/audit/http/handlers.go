package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/backoffice/internal/audit"
	"github.com/lumenmart/backoffice/internal/platform/httpx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxExportRange  = 90 * 24 * time.Hour
	dateLayout      = "2006-01-02"
)

// QueryService defines the read contract for operation logs.
type QueryService interface {
	Query(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
	VerifyPartition(ctx context.Context, partition string) (int, error)
}

// Exporter writes operation log exports.
type Exporter interface {
	WriteCSV(entries []audit.Entry) ([]byte, error)
}

// Handler serves operation log queries.
type Handler struct {
	logger   *slog.Logger
	service  QueryService
	exporter Exporter
	now      func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service QueryService, exporter Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		exporter: exporter,
		now:      time.Now,
	}
}

type verifyResponse struct {
	Partition string `json:"partition"`
	Entries   int    `json:"entries"`
	Intact    bool   `json:"intact"`
	Problem   string `json:"problem,omitempty"`
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r, true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, "query operation logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r, false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.From.IsZero() {
		filters.From = filters.To.Add(-maxExportRange)
	}
	if filters.To.Sub(filters.From) > maxExportRange {
		httpx.RespondError(w, fmt.Errorf("%w: range exceeds 90 days", httpx.ErrValidation))
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, "export operation logs", err)
		return
	}
	csvBytes, err := h.exporter.WriteCSV(entries)
	if err != nil {
		h.handleServiceError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"operation-logs.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	partition := chi.URLParam(r, "partition")
	count, err := h.service.VerifyPartition(r.Context(), partition)
	resp := verifyResponse{Partition: partition, Entries: count, Intact: err == nil}
	switch {
	case err == nil:
	case errors.Is(err, audit.ErrChainBroken):
		resp.Problem = err.Error()
	default:
		h.handleServiceError(w, "verify partition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// parseFilters reads query parameters. Date-only "to" values include the
// whole day. Without an explicit "to" the current time is used for exports.
func (h *Handler) parseFilters(r *http.Request, paged bool) (audit.Filters, error) {
	q := r.URL.Query()
	var filters audit.Filters

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, _, err := parseTime(v)
		if err != nil {
			return audit.Filters{}, validationError("from")
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, dateOnly, err := parseTime(v)
		if err != nil {
			return audit.Filters{}, validationError("to")
		}
		if dateOnly {
			to = to.Add(24 * time.Hour)
		}
		filters.To = to
	} else if !paged {
		filters.To = h.now().UTC()
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return audit.Filters{}, validationError("range")
	}

	if v := strings.TrimSpace(q.Get("actor_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, validationError("actor_id")
		}
		filters.ActorID = id
	}
	filters.ActorName = strings.TrimSpace(q.Get("actor"))
	filters.Module = strings.TrimSpace(q.Get("module"))
	filters.Action = strings.TrimSpace(q.Get("action"))
	filters.Partition = strings.TrimSpace(q.Get("partition"))
	switch outcome := audit.Outcome(strings.TrimSpace(q.Get("outcome"))); outcome {
	case "", audit.OutcomeSuccess, audit.OutcomeFailure, audit.OutcomeDenied, audit.OutcomeError:
		filters.Outcome = outcome
	default:
		return audit.Filters{}, validationError("outcome")
	}

	if !paged {
		return filters, nil
	}
	filters.Page = 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.Filters{}, validationError("page")
		}
		filters.Page = parsed
	}
	filters.PageSize = defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.Filters{}, validationError("page_size")
		}
		filters.PageSize = min(parsed, maxPageSize)
	}
	return filters, nil
}

func (h *Handler) handleServiceError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, audit.ErrInvalidFilter) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

func validationError(field string) error {
	return fmt.Errorf("%w: invalid %s", httpx.ErrValidation, field)
}
