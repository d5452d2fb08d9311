package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("database is locked") }

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	_, err := store.CreateAccount(ctx, core.Account{ID: "acct-1", Name: "Conto"})
	require.NoError(t, err)
	_, err = store.CreateRecurringTransaction(ctx, core.RecurringTransaction{
		ID:          "rt-rent",
		AccountID:   "acct-1",
		Amount:      decimal.RequireFromString("850"),
		Type:        core.TypeExpense,
		Category:    "Casa",
		Description: "Affitto",
		Frequency:   core.Monthly,
		StartDate:   core.NewDate(2024, 1, 31),
		DayOfMonth:  core.IntPtr(31),
		Active:      true,
	})
	require.NoError(t, err)

	processor := services.NewRecurringProcessor(store, nil, services.ProcessorConfig{})
	srv := NewServer(Options{Addr: ":0", Processor: processor, Store: store})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeSummary(t *testing.T, rr *httptest.ResponseRecorder) SummaryResponse {
	t.Helper()
	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(srv, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"), path)
	}
}

func TestReadyReportsStoreDown(t *testing.T) {
	srv := NewServer(Options{Store: downPinger{}})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rr := serve(srv, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	srv, store := newTestServer(t)

	rr := serve(srv, http.MethodGet, "/api/recurring/preview?now=2024-03-01")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeSummary(t, rr)
	assert.True(t, resp.DryRun)
	assert.Equal(t, "2024-03-01", resp.Today)
	require.Len(t, resp.Occurrences, 2)
	assert.Equal(t, "2024-01-31", resp.Occurrences[0].Date)
	assert.Equal(t, "2024-02-29", resp.Occurrences[1].Date)
	assert.Equal(t, "850.00", resp.Occurrences[0].Amount)
	assert.Zero(t, resp.Materialized)

	expenses, err := store.ListExpensesByRecurring(context.Background(), "rt-rent")
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestRunMaterializesOnce(t *testing.T) {
	srv, store := newTestServer(t)

	rr := serve(srv, http.MethodPost, "/api/recurring/run?now=2024-03-01")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeSummary(t, rr)
	assert.False(t, resp.DryRun)
	assert.Equal(t, 2, resp.Materialized)
	assert.Empty(t, resp.Failures)

	rr = serve(srv, http.MethodPost, "/api/recurring/run?now=2024-03-01")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, decodeSummary(t, rr).Materialized)

	expenses, err := store.ListExpensesByRecurring(context.Background(), "rt-rent")
	require.NoError(t, err)
	assert.Len(t, expenses, 2)
}

func TestRunUsesServerClock(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.now = func() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC) }

	rr := serve(srv, http.MethodPost, "/api/recurring/run")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSummary(t, rr)
	assert.Equal(t, "2024-02-01", resp.Today)
	assert.Equal(t, 1, resp.Materialized)
}

func TestRunRejectsBadNow(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := serve(srv, http.MethodPost, "/api/recurring/run?now=tomorrow")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "invalid time")
}

func TestRunStoreUnavailable(t *testing.T) {
	srv, store := newTestServer(t)
	store.FailListWith(errors.New("disk I/O error"))

	rr := serve(srv, http.MethodPost, "/api/recurring/run?now=2024-03-01")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRunMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := serve(srv, http.MethodGet, "/api/recurring/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRunRateLimited(t *testing.T) {
	store := memory.New()
	processor := services.NewRecurringProcessor(store, nil, services.ProcessorConfig{})
	srv := NewServer(Options{Processor: processor, Store: store, RunsPerMinute: 2})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	for i := 0; i < 2; i++ {
		rr := serve(srv, http.MethodPost, "/api/recurring/run?now=2024-03-01")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := serve(srv, http.MethodPost, "/api/recurring/run?now=2024-03-01")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 30, retryAfter, 1)
	assert.Equal(t, int64(1), srv.rateLimiter.Hits())
}

func TestSummaryResponseReportsResumeFrom(t *testing.T) {
	summary := &services.PassSummary{
		Now: core.NewDate(2024, 3, 1),
		Warnings: []services.RecordIssue{{
			RecurringTransactionID: "rt-1",
			Err: &core.CatchUpLimitExceeded{
				RecurringTransactionID: "rt-1",
				Limit:                  20,
				ResumeFrom:             core.NewDate(2024, 1, 21),
			},
		}},
	}

	resp := NewSummaryResponse(summary, false)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "2024-01-21", resp.Warnings[0].ResumeFrom)
	assert.NotNil(t, resp.Failures)
	assert.NotNil(t, resp.Occurrences)
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"trusted proxy", "10.0.0.2:1234", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
		{"untrusted proxy ignored", "203.0.113.5:1234", "198.51.100.7", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, extractClientIP(req))
		})
	}
}

// ctxProcessor records whether the pass saw a cancelled context.
type ctxProcessor struct {
	cancelled bool
}

func (p *ctxProcessor) ProcessDue(ctx context.Context, now time.Time) (*services.PassSummary, error) {
	p.cancelled = ctx.Err() != nil
	return &services.PassSummary{Now: core.DateOf(now)}, nil
}

func (p *ctxProcessor) Preview(ctx context.Context, now time.Time) (*services.PassSummary, error) {
	return &services.PassSummary{Now: core.DateOf(now)}, nil
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	processor := &ctxProcessor{}
	srv := NewServer(Options{Processor: processor, Store: memory.New()})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/recurring/run?now=2024-03-01", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, processor.cancelled)
}

func TestRequestLogUsesResolvedClientIP(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf, JSON: true})
	srv := NewServer(Options{Processor: &ctxProcessor{}, Store: memory.New(), Logger: logger})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:54321"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	srv.Handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"client_ip":"198.51.100.7"`)
	assert.NotContains(t, buf.String(), "10.0.0.2:54321")
}
