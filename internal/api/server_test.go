package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/samijaber1/aegis-objectives/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/scheduler"
	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/status"
	"github.com/samijaber1/aegis-objectives/internal/storage/sqlite"
)

var now = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

type testEnv struct {
	server   *Server
	registry *registry.Registry
	source   *synthetic.Adapter
}

func testObjective(name string) slo.Objective {
	return slo.Objective{
		Name:   name,
		Target: 0.99,
		Window: 28 * 24 * time.Hour,
		Indicator: slo.Indicator{Ratio: &slo.RatioIndicator{
			Errors: `sum by (code) (rate(http_requests_total{code=~"5.."}[{{window}}]))`,
			Total:  `sum by (code) (rate(http_requests_total[{{window}}]))`,
		}},
	}
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	reg := registry.New(logger, registry.WithClock(func() time.Time { return now }))
	source := synthetic.NewAdapter()

	config := status.DefaultConfig()
	config.Timeout = 200 * time.Millisecond
	agg := status.NewAggregator(reg, source, config, logger)

	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return &testEnv{
		server:   NewServer(reg, agg, ":0", logger, opts...),
		registry: reg,
		source:   source,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) create(t *testing.T, o slo.Objective) {
	t.Helper()
	_, err := e.registry.Create(context.Background(), o)
	require.NoError(t, err)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %s", resp.Status)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id to be assigned")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("without scheduler", func(t *testing.T) {
		env := setupTestServer(t)
		w := env.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("before first reload", func(t *testing.T) {
		validator, err := slo.NewValidator()
		require.NoError(t, err)
		logger := zaptest.NewLogger(t)
		reg := registry.New(logger)
		sched := scheduler.NewScheduler(validator, reg, t.TempDir(), time.Minute, logger)

		env := setupTestServer(t, WithScheduler(sched))
		w := env.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "lastReload")

		var resp ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.False(t, resp.Ready)
		assert.NotEmpty(t, resp.Reasons)
	})

	t.Run("after reload", func(t *testing.T) {
		validator, err := slo.NewValidator()
		require.NoError(t, err)
		logger := zaptest.NewLogger(t)
		reg := registry.New(logger)
		sched := scheduler.NewScheduler(validator, reg, filepath.Join("..", "slo", "testdata", "valid"), time.Minute, logger)
		_, err = sched.Reload(context.Background())
		require.NoError(t, err)

		// readiness is judged against wall time here
		env := setupTestServer(t, WithScheduler(sched), WithClock(time.Now))
		w := env.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.NotNil(t, resp.LastReload)
		assert.False(t, resp.LastReload.IsZero())
	})
}

func TestObjectiveCRUD(t *testing.T) {
	env := setupTestServer(t)

	o := testObjective("checkout")
	body, err := json.Marshal(o)
	require.NoError(t, err)

	w := env.do(t, http.MethodPut, "/objectives/checkout", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/objectives/checkout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got slo.Objective
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, o, got)

	o.Target = 0.995
	body, err = json.Marshal(o)
	require.NoError(t, err)
	w = env.do(t, http.MethodPut, "/api/v1/objectives/checkout", body)
	assert.Equal(t, http.StatusOK, w.Code)

	entry, err := env.registry.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Epoch)

	w = env.do(t, http.MethodGet, "/objectives", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []slo.Objective
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, 0.995, list[0].Target)

	w = env.do(t, http.MethodDelete, "/objectives/checkout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/objectives/checkout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, w).Code)

	w = env.do(t, http.MethodDelete, "/objectives/checkout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutObjective_Invalid(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode string
	}{
		{"malformed json", "/objectives/a", `{"target":`, CodeInvalidObjective},
		{"target out of range", "/objectives/a", `{"target":1.5,"window":86400000,"indicator":{"ratio":{"errors":"e","total":"t"}}}`, CodeInvalidObjective},
		{"no indicator", "/objectives/a", `{"target":0.99,"window":86400000}`, CodeInvalidObjective},
		{"name mismatch", "/objectives/a", `{"name":"b","target":0.99,"window":86400000,"indicator":{"ratio":{"errors":"e","total":"t"}}}`, CodeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tt.path, []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
	assert.Equal(t, 0, env.registry.Len())
}

func TestStatusEndpoint(t *testing.T) {
	env := setupTestServer(t)
	o := testObjective("checkout")
	env.create(t, o)
	env.source.SetInstant(o.ErrorsQuery(o.Window), 50)
	env.source.SetInstant(o.TotalQuery(o.Window), 10000)

	for _, path := range []string{"/objectives/checkout/status", "/api/v1/objectives/checkout/status"} {
		w := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp StatusResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.InDelta(t, 0.995, resp.Availability.Percentage, 1e-9)
		assert.Equal(t, 10000.0, resp.Availability.Total)
		assert.Equal(t, 50.0, resp.Availability.Errors)
		assert.InDelta(t, 0.01, resp.Budget.Total, 1e-9)
		assert.InDelta(t, 0.5, resp.Budget.Remaining, 1e-9)
		assert.InDelta(t, 0.5, resp.Budget.RemainingClamped, 1e-9)
		assert.InDelta(t, 100, resp.Budget.Max, 1e-6)
		assert.Empty(t, resp.Alerts)
		assert.Equal(t, 1, resp.Epoch)
		assert.Equal(t, "ok", resp.Health)
		assert.True(t, resp.Timestamp.Equal(now))
	}
}

func TestStatusEndpoint_Overspent(t *testing.T) {
	env := setupTestServer(t)
	o := testObjective("checkout")
	env.create(t, o)
	env.source.SetInstant(o.ErrorsQuery(o.Window), 300)
	env.source.SetInstant(o.TotalQuery(o.Window), 10000)

	w := env.do(t, http.MethodGet, "/objectives/checkout/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, -2, resp.Budget.Remaining, 1e-9)
	assert.Equal(t, 0.0, resp.Budget.RemainingClamped)
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/objectives/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, w).Code)
}

func TestStatusEndpoint_BackendErrors(t *testing.T) {
	o := testObjective("checkout")

	tests := []struct {
		name       string
		setup      func(*synthetic.Adapter)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "timeout",
			setup:      func(a *synthetic.Adapter) { a.SetDelay(time.Second) },
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeBackendUnavailable,
		},
		{
			name: "unreachable",
			setup: func(a *synthetic.Adapter) {
				a.SetError(o.TotalQuery(o.Window), &eval.QueryError{Kind: eval.ErrUnreachable, Expr: o.TotalQuery(o.Window), Msg: "connection refused"})
			},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeBackendUnavailable,
		},
		{
			name: "invalid expression",
			setup: func(a *synthetic.Adapter) {
				a.SetError(o.ErrorsQuery(o.Window), &eval.QueryError{Kind: eval.ErrInvalidExpression, Expr: o.ErrorsQuery(o.Window), Msg: "parse error"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidExpression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			env.create(t, o)
			tt.setup(env.source)

			w := env.do(t, http.MethodGet, "/objectives/checkout/status", nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotContains(t, resp.Message, "http_requests_total")
			if tt.wantCode == CodeInvalidExpression {
				assert.Contains(t, resp.Message, "parse error")
			}
		})
	}
}

func TestAlertsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	o := testObjective("checkout")
	env.create(t, o)

	// 20x over 5m and 1h fires both critical rungs that use them
	env.source.SetInstant(o.ErrorsQuery(5*time.Minute), 20)
	env.source.SetInstant(o.TotalQuery(5*time.Minute), 100)
	env.source.SetInstant(o.ErrorsQuery(time.Hour), 200)
	env.source.SetInstant(o.TotalQuery(time.Hour), 1000)

	w := env.do(t, http.MethodGet, "/objectives/checkout/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var alerts []AlertResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&alerts))
	require.Len(t, alerts, 4)

	first := alerts[0]
	assert.Equal(t, "critical", first.Severity)
	assert.Equal(t, "firing", first.State)
	assert.Equal(t, int64(5*60*1000), first.Short.Window)
	assert.Equal(t, int64(60*60*1000), first.Long.Window)
	assert.Equal(t, int64(2*60*1000), first.For)
	assert.InDelta(t, 20, first.Short.Current, 1e-9)
	assert.Equal(t, 14.0, first.Factor)

	for _, a := range alerts[1:] {
		assert.Equal(t, "inactive", a.State)
	}
	assert.Equal(t, "warning", alerts[3].Severity)
}

func TestErrorBudgetEndpoint(t *testing.T) {
	env := setupTestServer(t)
	o := testObjective("checkout")
	env.create(t, o)

	t0 := now.Add(-time.Hour).Unix()
	env.source.SetSeries(o.ErrorsQuery(o.Window), synthetic.SeriesFixture{
		Points: []synthetic.Point{{T: t0, V: 50}, {T: t0 + 60, V: 100}},
	})
	env.source.SetSeries(o.TotalQuery(o.Window), synthetic.SeriesFixture{
		Points: []synthetic.Point{{T: t0, V: 10000}, {T: t0 + 60, V: 10000}},
	})

	path := "/objectives/checkout/errorbudget?start=" + itoa(t0-60) + "&end=" + itoa(now.Unix())
	w := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ErrorBudgetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Pair, 2)
	assert.Equal(t, t0, resp.Pair[0].T)
	assert.InDelta(t, 0.5, resp.Pair[0].V, 1e-9)
	assert.InDelta(t, 0.0, resp.Pair[1].V, 1e-9)
}

func TestRangeParameters_Invalid(t *testing.T) {
	env := setupTestServer(t)
	env.create(t, testObjective("checkout"))

	for _, query := range []string{"start=abc", "end=-5", "start=200&end=100", "start=100&end=100"} {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/objectives/checkout/errorbudget?"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidParameter, decodeError(t, w).Code)
		})
	}
}

func TestREDEndpoint(t *testing.T) {
	env := setupTestServer(t)
	o := testObjective("checkout")
	env.create(t, o)

	t0 := now.Add(-10 * time.Minute).Unix()
	env.source.SetSeries(o.ErrorsRangeQuery(5*time.Minute),
		synthetic.SeriesFixture{
			Labels: map[string]string{"code": "500"},
			Points: []synthetic.Point{{T: t0, V: 0.5}, {T: t0 + 60, V: 0.75}},
		},
		synthetic.SeriesFixture{
			Labels: map[string]string{"code": "503"},
			Points: []synthetic.Point{{T: t0 + 60, V: 0.25}},
		},
	)

	w := env.do(t, http.MethodGet, "/objectives/checkout/red/errors?start="+itoa(t0-60)+"&end="+itoa(now.Unix()), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the gap of the second series is encoded as null
	assert.Contains(t, w.Body.String(), `[`+itoa(t0)+`,0.5,null]`)

	var resp struct {
		Labels []string     `json:"labels"`
		Values [][]*float64 `json:"values"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{`{code="500"}`, `{code="503"}`}, resp.Labels)
	require.Len(t, resp.Values, 2)
	assert.Nil(t, resp.Values[0][2])
	assert.Equal(t, 0.25, *resp.Values[1][2])
}

func TestREDEndpoint_Empty(t *testing.T) {
	env := setupTestServer(t)
	env.create(t, testObjective("checkout"))

	w := env.do(t, http.MethodGet, "/objectives/checkout/red/requests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"labels":[],"values":[]}`, w.Body.String())
}

func TestREDEndpoint_DurationNeedsLatency(t *testing.T) {
	env := setupTestServer(t)
	env.create(t, testObjective("checkout"))

	w := env.do(t, http.MethodGet, "/objectives/checkout/red/duration", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/objectives/checkout/red/saturation", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsEndpoint(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := setupTestServer(t)
		w := env.do(t, http.MethodGet, "/objectives/checkout/events", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("history", func(t *testing.T) {
		store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "aegis.db"))
		require.NoError(t, err)
		defer store.Close()

		logger := zaptest.NewLogger(t)
		reg := registry.New(logger, registry.WithStore(store))
		agg := status.NewAggregator(reg, synthetic.NewAdapter(), status.DefaultConfig(), logger)
		server := NewServer(reg, agg, ":0", logger, WithEventStore(store))

		o := testObjective("checkout")
		_, err = reg.Create(context.Background(), o)
		require.NoError(t, err)
		o.Window = 7 * 24 * time.Hour
		_, err = reg.Update(context.Background(), o)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/objectives/checkout/events?limit=10", nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var events []EventResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
		require.Len(t, events, 2)
		assert.Equal(t, "updated", events[0].Action)
		assert.Equal(t, 2, events[0].Epoch)
		assert.Equal(t, (7 * 24 * time.Hour).Milliseconds(), events[0].Window)

		req = httptest.NewRequest(http.MethodGet, "/objectives/checkout/events?limit=x", nil)
		w = httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("time range", func(t *testing.T) {
		store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "aegis.db"))
		require.NoError(t, err)
		defer store.Close()

		clock := now
		logger := zaptest.NewLogger(t)
		reg := registry.New(logger, registry.WithStore(store), registry.WithClock(func() time.Time { return clock }))
		agg := status.NewAggregator(reg, synthetic.NewAdapter(), status.DefaultConfig(), logger)
		server := NewServer(reg, agg, ":0", logger, WithEventStore(store))

		o := testObjective("checkout")
		_, err = reg.Create(context.Background(), o)
		require.NoError(t, err)
		clock = now.Add(2 * time.Hour)
		o.Target = 0.995
		_, err = reg.Update(context.Background(), o)
		require.NoError(t, err)

		get := func(query string) []EventResponse {
			req := httptest.NewRequest(http.MethodGet, "/objectives/checkout/events?"+query, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var events []EventResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
			return events
		}

		midway := itoa(now.Add(time.Hour).Unix())

		events := get("start=" + midway)
		require.Len(t, events, 1)
		assert.Equal(t, "updated", events[0].Action)

		events = get("end=" + midway)
		require.Len(t, events, 1)
		assert.Equal(t, "created", events[0].Action)

		req := httptest.NewRequest(http.MethodGet, "/objectives/checkout/events?start="+midway+"&end="+itoa(now.Unix()), nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/objectives/checkout/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/healthz", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "aegis_http_requests_total"))
}

func TestNullableFloat(t *testing.T) {
	data, err := json.Marshal([]NullableFloat{1.5, NullableFloat(nanValue())})
	require.NoError(t, err)
	assert.Equal(t, `[1.5,null]`, string(data))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func nanValue() float64 {
	return math.NaN()
}
