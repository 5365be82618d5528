package audithttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/backoffice/internal/audit"
	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

type stubQueryService struct {
	result      audit.Result
	exportRows  []audit.Entry
	verifyCount int
	verifyErr   error
	err         error
	lastFilters audit.Filters
	calls       int
}

func (s *stubQueryService) Query(ctx context.Context, filters audit.Filters) (audit.Result, error) {
	s.lastFilters = filters
	s.calls++
	return s.result, s.err
}

func (s *stubQueryService) Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error) {
	s.lastFilters = filters
	s.calls++
	return s.exportRows, s.err
}

func (s *stubQueryService) VerifyPartition(ctx context.Context, partition string) (int, error) {
	s.calls++
	return s.verifyCount, s.verifyErr
}

type stubResolver struct {
	perms map[int64]rbac.PermissionSet
	err   error
}

func (s stubResolver) Resolve(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	if s.err != nil {
		return rbac.PermissionSet{}, s.err
	}
	return s.perms[userID], nil
}

func newAuditHandler(service *stubQueryService) *Handler {
	handler := NewHandler(nil, service, audit.NewExporter())
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	return handler
}

func newRouter(h *Handler, resolver rbac.PermissionResolver) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r, rbac.Middleware{Gate: rbac.NewGate(resolver, time.Second, nil, nil)})
	return r
}

func withActor(req *http.Request, id int64) *http.Request {
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: id, Name: "tester"}))
}

func TestLogsRequiresPermission(t *testing.T) {
	service := &stubQueryService{}
	router := newRouter(newAuditHandler(service), stubResolver{perms: map[int64]rbac.PermissionSet{
		5: rbac.NewPermissionSet(shared.PermStatsRead),
	}})

	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/logs", nil), 5)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not be called on deny")
	}
}

func TestLogsWithoutActorIsUnauthorized(t *testing.T) {
	router := newRouter(newAuditHandler(&stubQueryService{}), stubResolver{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLogsFailsClosedWhenResolverErrors(t *testing.T) {
	service := &stubQueryService{}
	router := newRouter(newAuditHandler(service), stubResolver{err: rbac.ErrStoreUnavailable})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodGet, "/audit/logs", nil), 5))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not be called when resolution fails")
	}
}

func TestLogsReturnsEntries(t *testing.T) {
	entries := []audit.Entry{{Partition: "node-a", SequenceID: 1, ActorName: "auditor", Module: "role", Action: "assign", Outcome: audit.OutcomeSuccess, Params: []audit.Param{}}}
	service := &stubQueryService{result: audit.Result{Entries: entries, Paging: audit.PagingInfo{Page: 2, PageSize: 10}}}
	router := newRouter(newAuditHandler(service), stubResolver{perms: map[int64]rbac.PermissionSet{
		7: rbac.NewPermissionSet(shared.PermAuditRead),
	}})

	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/logs?module=role&outcome=success&actor_id=3&page=2&page_size=10&from=2024-03-01&to=2024-03-10", nil), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].ActorName != "auditor" {
		t.Fatalf("unexpected body %+v", body)
	}
	f := service.lastFilters
	if f.Module != "role" || f.Outcome != audit.OutcomeSuccess || f.ActorID != 3 || f.Page != 2 || f.PageSize != 10 {
		t.Fatalf("unexpected filters %+v", f)
	}
	if !f.To.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date-only to to include the whole day, got %s", f.To)
	}
}

func TestLogsRejectsBadQuery(t *testing.T) {
	cases := []string{
		"/audit/logs?from=yesterday",
		"/audit/logs?actor_id=abc",
		"/audit/logs?outcome=maybe",
		"/audit/logs?page=0",
		"/audit/logs?from=2024-03-10&to=2024-03-01",
	}
	for _, target := range cases {
		service := &stubQueryService{}
		handler := newAuditHandler(service)
		rr := httptest.NewRecorder()
		handler.handleLogs(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
		if service.calls != 0 {
			t.Fatalf("%s: service must not be called", target)
		}
	}
}

func TestLogsClampsPageSize(t *testing.T) {
	service := &stubQueryService{}
	handler := newAuditHandler(service)
	rr := httptest.NewRecorder()
	handler.handleLogs(rr, httptest.NewRequest(http.MethodGet, "/audit/logs?page_size=1000", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.lastFilters.PageSize != maxPageSize {
		t.Fatalf("expected page size %d, got %d", maxPageSize, service.lastFilters.PageSize)
	}
}

func TestExportCSV(t *testing.T) {
	rows := []audit.Entry{{Partition: "node-a", SequenceID: 4, CreatedAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorName: "auditor", Module: "permission", Action: "grant", Outcome: audit.OutcomeSuccess}}
	service := &stubQueryService{exportRows: rows}
	handler := newAuditHandler(service)
	req := httptest.NewRequest(http.MethodGet, "/audit/logs/export.csv?from=2024-03-01&to=2024-03-10", nil)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	if !strings.Contains(rr.Body.String(), "auditor") {
		t.Fatalf("expected csv body to contain actor")
	}
}

func TestExportDefaultsToRecentWindow(t *testing.T) {
	service := &stubQueryService{}
	handler := newAuditHandler(service)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, httptest.NewRequest(http.MethodGet, "/audit/logs/export.csv", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !service.lastFilters.To.Equal(want) {
		t.Fatalf("expected to=%s, got %s", want, service.lastFilters.To)
	}
	if !service.lastFilters.From.Equal(want.Add(-maxExportRange)) {
		t.Fatalf("unexpected from %s", service.lastFilters.From)
	}
}

func TestExportRejectsLongRange(t *testing.T) {
	service := &stubQueryService{}
	handler := newAuditHandler(service)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, httptest.NewRequest(http.MethodGet, "/audit/logs/export.csv?from=2023-01-01&to=2024-03-01", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestExportIsRateLimited(t *testing.T) {
	service := &stubQueryService{}
	router := newRouter(newAuditHandler(service), stubResolver{perms: map[int64]rbac.PermissionSet{
		9: rbac.NewPermissionSet(shared.PermAuditExport),
	}})
	var last int
	for i := 0; i < rateLimit+1; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodGet, "/audit/logs/export.csv", nil), 9))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", rateLimit, last)
	}
	if service.calls != rateLimit {
		t.Fatalf("expected %d service calls, got %d", rateLimit, service.calls)
	}
}

func TestVerifyReportsChainState(t *testing.T) {
	perms := stubResolver{perms: map[int64]rbac.PermissionSet{1: rbac.AllPermissions()}}

	cases := []struct {
		name   string
		err    error
		code   int
		intact bool
	}{
		{name: "intact", code: http.StatusOK, intact: true},
		{name: "broken", err: fmt.Errorf("%w: gap between 3 and 5", audit.ErrChainBroken), code: http.StatusOK},
		{name: "store down", err: errors.New("pool closed"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubQueryService{verifyCount: 4, verifyErr: tc.err}
			router := newRouter(newAuditHandler(service), perms)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodGet, "/audit/partitions/node-a/verify", nil), 1))
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			if tc.code != http.StatusOK {
				return
			}
			var body verifyResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Partition != "node-a" || body.Entries != 4 || body.Intact != tc.intact {
				t.Fatalf("unexpected body %+v", body)
			}
			if !tc.intact && !strings.Contains(body.Problem, "gap") {
				t.Fatalf("expected problem detail, got %q", body.Problem)
			}
		})
	}
}
