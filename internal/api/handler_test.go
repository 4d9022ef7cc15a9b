package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbi/internal/declarative"
	"smartbi/internal/domain"
	"smartbi/internal/middleware"
	"smartbi/internal/service/semantic"
	"smartbi/internal/sqlguard"
)

// setupAPITest loads the shared test catalog and serves the handler behind
// the request-ID middleware.
func setupAPITest(t *testing.T, guard semantic.SQLGuard) *httptest.Server {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	cat, err := declarative.LoadCatalogFile(filepath.Join(filepath.Dir(filename), "..", "declarative", "testdata", "semantic.yaml"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := semantic.NewService(cat, semantic.Options{Guard: guard, Logger: logger})
	srv := httptest.NewServer(middleware.RequestID(NewHandler(HandlerConfig{
		Service: svc,
		Version: "test",
		Logger:  logger,
	})))
	t.Cleanup(srv.Close)
	return srv
}

func testGuard(t *testing.T) semantic.SQLGuard {
	t.Helper()
	g, err := sqlguard.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g.Check
}

func postPlan(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/v1/query/plan", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := setupAPITest(t, nil)

	var body map[string]any
	status := getJSON(t, srv, "/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.InDelta(t, 2, body["datasets"], 0)
}

func TestPlan_Compiles(t *testing.T) {
	srv := setupAPITest(t, testGuard(t))

	resp := postPlan(t, srv, `{
		"features": {
			"metrics": ["存款餘額"],
			"dimensions": ["地區"],
			"time_start": "2024-01-01",
			"time_end": "2024-01-31"
		},
		"selection": {"selected_metrics": ["deposit_balance_daily.deposit_end_balance"]}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))

	var res struct {
		RequestID  string                  `json:"request_id"`
		Validation domain.ValidationResult `json:"validation"`
		SQL        string                  `json:"sql"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "req-1", res.RequestID)
	assert.True(t, res.Validation.OK, "errors: %v", res.Validation.Errors)
	assert.Contains(t, res.SQL, "dim_branch.region")
	assert.Contains(t, res.SQL, "BETWEEN '2024-01-01' AND '2024-01-31'")
}

func TestPlan_BlockedHasNoSQL(t *testing.T) {
	srv := setupAPITest(t, nil)

	resp := postPlan(t, srv, `{"features": {"metrics": ["存款餘額"], "dimensions": ["經理電話"], "time_start": "2024-01-01", "time_end": "2024-01-31"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	_, hasSQL := raw["sql"]
	assert.False(t, hasSQL)

	var validation domain.ValidationResult
	require.NoError(t, json.Unmarshal(raw["validation"], &validation))
	assert.False(t, validation.OK)
	assert.Equal(t, []domain.ErrorCode{domain.CodeBlockedMatch}, validation.ErrorCodes)
}

func TestPlan_BadRequests(t *testing.T) {
	srv := setupAPITest(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "metrics=revenue"},
		{name: "unknown field", body: `{"features": {}, "sql": "DROP TABLE x"}`},
		{name: "trailing data", body: `{"features": {}} {}`},
		{name: "bad filter value", body: `{"selection": {"selected_filters": [{"field": "a", "op": "=", "value": {"x": 1}}]}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postPlan(t, srv, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, http.StatusBadRequest, body.Code)
			assert.Contains(t, body.Message, "invalid request body")
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestPlan_GuardRejectionIs500(t *testing.T) {
	srv := setupAPITest(t, func(context.Context, string) error { return errors.New("nope") })

	resp := postPlan(t, srv, `{"features": {"metrics": ["存款餘額"], "time_start": "2024-01-01", "time_end": "2024-01-31"}}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Internal Server Error", body.Message, "guard details stay in the log")
}

func TestCatalogEndpoints(t *testing.T) {
	srv := setupAPITest(t, nil)

	t.Run("datasets", func(t *testing.T) {
		var body struct {
			Datasets []declarative.DatasetSummary `json:"datasets"`
		}
		status := getJSON(t, srv, "/v1/catalog/datasets", &body)
		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.Datasets, 2)
		assert.Equal(t, "deposit_balance_daily", body.Datasets[0].Name)
		assert.Equal(t, []string{"calendar", "branch"}, body.Datasets[0].Joins)
	})

	t.Run("dataset by name", func(t *testing.T) {
		var body declarative.DatasetSummary
		status := getJSON(t, srv, "/v1/catalog/datasets/loan_monthly", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"loan_monthly.loan_outstanding", "loan_monthly.avg_rate"}, body.Metrics)
	})

	t.Run("unknown dataset", func(t *testing.T) {
		var body ErrorResponse
		status := getJSON(t, srv, "/v1/catalog/datasets/ghost", &body)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Contains(t, body.Message, "ghost")
	})

	t.Run("governance", func(t *testing.T) {
		var body domain.Governance
		status := getJSON(t, srv, "/v1/catalog/governance", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, domain.Governance{RequireTimeFilter: true, MaxRows: 1000, TimeoutSeconds: 30}, body)
	})
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation("bad"), http.StatusBadRequest},
		{domain.ErrNotFound("gone"), http.StatusNotFound},
		{domain.ErrContract("broken"), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, httpStatusFromDomainError(tc.err), tc.err.Error())
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]string{"a": "b"})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":"b"}`, rec.Body.String())
	assert.True(t, bytes.HasSuffix(rec.Body.Bytes(), []byte("\n")))
}
