package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/scheduler"
	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/status"
	"github.com/samijaber1/aegis-objectives/internal/storage"
)

const maxBodyBytes = 1 << 20

var errInvalidParameter = errors.New("invalid parameter")

// Server is the HTTP API server
type Server struct {
	registry   *registry.Registry
	aggregator *status.Aggregator
	scheduler  *scheduler.Scheduler
	events     storage.ObjectiveStore
	now        func() time.Time
	logger     *zap.Logger

	router *mux.Router
	server *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithScheduler reports directory reloads in /readyz
func WithScheduler(sched *scheduler.Scheduler) Option {
	return func(s *Server) {
		s.scheduler = sched
	}
}

// WithEventStore serves the objective change history
func WithEventStore(store storage.ObjectiveStore) Option {
	return func(s *Server) {
		s.events = store
	}
}

// WithClock overrides the evaluation time
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a new API server
func NewServer(reg *registry.Registry, agg *status.Aggregator, addr string, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		registry:   reg,
		aggregator: agg,
		now:        time.Now,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware, s.loggingMiddleware)

	// Health endpoints
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Objective endpoints, served both at the root and under /api/v1
	s.objectiveRoutes(router.PathPrefix("/api/v1").Subrouter())
	s.objectiveRoutes(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})

	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) objectiveRoutes(r *mux.Router) {
	r.HandleFunc("/objectives", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/objectives/{name}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/objectives/{name}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}/errorbudget", s.handleErrorBudget).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}/red/{kind:requests|errors|duration}", s.handleRED).Methods(http.MethodGet)
	r.HandleFunc("/objectives/{name}/events", s.handleEvents).Methods(http.MethodGet)
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz. Without an objective directory the server
// is ready as soon as it serves requests.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Ready:            true,
		ObjectivesLoaded: s.registry.Len(),
	}

	if s.scheduler != nil {
		state, ok := s.scheduler.State()
		switch {
		case !ok:
			resp.Ready = false
			resp.Reasons = append(resp.Reasons, "objectives not loaded yet")
		case !s.scheduler.Ready(s.now()):
			resp.Ready = false
			resp.LastReload = &state.UpdatedAt
			resp.Reasons = append(resp.Reasons, "objective reloads are stale")
		default:
			resp.LastReload = &state.UpdatedAt
			if !state.OK() {
				resp.Reasons = append(resp.Reasons, fmt.Sprintf("%d invalid objective files skipped", len(state.Errors)))
			}
		}
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// handleList handles GET /objectives
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()

	objectives := make([]slo.Objective, 0, len(entries))
	for _, e := range entries {
		objectives = append(objectives, e.Objective)
	}
	respondJSON(w, http.StatusOK, objectives)
}

// handleGet handles GET /objectives/{name}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Get(mux.Vars(r)["name"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry.Objective)
}

// handlePut handles PUT /objectives/{name}. The body is the objective JSON;
// its name may be omitted but must match the path otherwise.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var objective slo.Objective
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&objective); err != nil {
		s.respondErr(w, r, fmt.Errorf("%w: invalid request body: %v", slo.ErrInvalidObjective, err))
		return
	}

	if objective.Name == "" {
		objective.Name = name
	}
	if objective.Name != name {
		s.respondErr(w, r, fmt.Errorf("%w: body name %q does not match path name %q", errInvalidParameter, objective.Name, name))
		return
	}

	entry, created, err := s.registry.Put(r.Context(), objective)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	respondJSON(w, code, entry.Objective)
}

// handleDelete handles DELETE /objectives/{name}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus handles GET /objectives/{name}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.aggregator.Status(r.Context(), mux.Vars(r)["name"], s.now())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(st))
}

// handleAlerts handles GET /objectives/{name}/alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.aggregator.Alerts(r.Context(), mux.Vars(r)["name"], s.now())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAlertResponses(alerts))
}

// handleErrorBudget handles GET /objectives/{name}/errorbudget?start&end
func (s *Server) handleErrorBudget(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	points, err := s.aggregator.ErrorBudget(r.Context(), mux.Vars(r)["name"], start, end, s.now())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := ErrorBudgetResponse{Pair: make([]ErrorBudgetPair, len(points))}
	for i, p := range points {
		resp.Pair[i] = ErrorBudgetPair{T: p.Timestamp.Unix(), V: p.Value}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRED handles GET /objectives/{name}/red/{kind}?start&end
func (s *Server) handleRED(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	vars := mux.Vars(r)
	table, err := s.aggregator.RED(r.Context(), vars["name"], status.REDKind(vars["kind"]), start, end, s.now())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toQueryRangeResponse(table))
}

// handleEvents handles GET /objectives/{name}/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusServiceUnavailable, CodeBackendUnavailable, "event storage not configured")
		return
	}

	query := r.URL.Query()
	filter := storage.EventFilter{
		Name:   mux.Vars(r)["name"],
		Action: storage.Action(query.Get("action")),
	}

	start, end, err := parseRange(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !start.IsZero() {
		filter.StartTime = &start
	}
	if !end.IsZero() {
		filter.EndTime = &end
	}

	if filter.Limit, err = parseInt(query.Get("limit")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if filter.Offset, err = parseInt(query.Get("offset")); err != nil {
		s.respondErr(w, r, err)
		return
	}

	events, err := s.events.QueryEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to query events", zap.String("objective", filter.Name), zap.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to query events")
		return
	}

	resp := make([]EventResponse, len(events))
	for i, e := range events {
		resp[i] = EventResponse{
			ID:        e.ID,
			Action:    string(e.Action),
			Epoch:     e.Epoch,
			Target:    e.Target,
			Window:    e.Window.Milliseconds(),
			Timestamp: e.Timestamp,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondErr maps domain errors to HTTP responses. Messages never carry
// query expressions.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, registry.ErrAlreadyExists):
		respondError(w, http.StatusConflict, CodeAlreadyExists, err.Error())
	case errors.Is(err, slo.ErrInvalidObjective):
		respondError(w, http.StatusBadRequest, CodeInvalidObjective, err.Error())
	case errors.Is(err, errInvalidParameter), errors.Is(err, status.ErrInvalidRange):
		respondError(w, http.StatusBadRequest, CodeInvalidParameter, err.Error())
	case errors.Is(err, status.ErrNotApplicable):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, eval.ErrInvalidExpression):
		msg := "objective query was rejected by the metrics backend"
		var qe *eval.QueryError
		if errors.As(err, &qe) && qe.Msg != "" {
			msg += ": " + qe.Msg
		}
		respondError(w, http.StatusBadRequest, CodeInvalidExpression, msg)
	case errors.Is(err, status.ErrBackendUnavailable):
		msg := "metrics backend unreachable"
		if errors.Is(err, eval.ErrTimeout) {
			msg = "metrics backend timed out"
		}
		respondError(w, http.StatusServiceUnavailable, CodeBackendUnavailable, msg)
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// parseRange reads the optional start and end unix timestamps. Zero values
// are left for the aggregator to default.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	var start, end time.Time
	query := r.URL.Query()

	for _, p := range []struct {
		key string
		out *time.Time
	}{{"start", &start}, {"end", &end}} {
		raw := query.Get(p.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %s must be a unix timestamp in seconds", errInvalidParameter, p.key)
		}
		*p.out = time.Unix(v, 0).UTC()
	}

	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be after start", errInvalidParameter)
	}
	return start, end, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", errInvalidParameter, raw)
	}
	return v, nil
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}
