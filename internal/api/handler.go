package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"askdb/internal/core"
	"askdb/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type Handler struct {
	bridge  *service.Bridge
	authSvc *service.AuthService
	limiter *RateLimiter
	log     zerolog.Logger
}

func NewHandler(bridge *service.Bridge, authSvc *service.AuthService, limiter *RateLimiter, log zerolog.Logger) *Handler {
	return &Handler{
		bridge:  bridge,
		authSvc: authSvc,
		limiter: limiter,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Routes builds the full router: health and metrics are public, everything
// under /api requires an API key.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(h.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}

		r.Post("/explain", h.ExplainQuery)
		r.Post("/validate", h.ValidateQuery)

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", h.CreateConnection)
			r.Get("/", h.ListConnections)
			r.Post("/test", h.TestConnection)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetConnection)
				r.Patch("/", h.UpdateConnection)
				r.Delete("/", h.DeleteConnection)
				r.Post("/schema", h.DiscoverSchema)
				r.Get("/schema", h.GetCachedSchema)
				r.Post("/generate", h.GenerateQuery)
				r.Post("/sql", h.ExecuteSQL)
				r.Post("/ask", h.Ask)
				r.Get("/history", h.GetHistory)
				r.Delete("/history", h.ClearHistory)
			})
		})
	})
	return r
}

func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var input core.CreateConnectionInput
	if !h.decode(w, r, &input) {
		return
	}
	info, err := h.bridge.CreateConnection(r.Context(), UserID(r.Context()), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	list, err := h.bridge.ListConnections(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []core.ConnectionInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	info, err := h.bridge.GetConnection(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if info == nil {
		h.writeError(w, r, core.ErrConnectionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	var patch core.ConnectionPatch
	if !h.decode(w, r, &patch) {
		return
	}
	info, err := h.bridge.UpdateConnection(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.bridge.DeleteConnection(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testConnectionRequest struct {
	Dialect     core.Dialect     `json:"dialect"`
	Credentials core.Credentials `json:"credentials"`
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.bridge.TestConnection(r.Context(), req.Dialect, req.Credentials)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DiscoverSchema(w http.ResponseWriter, r *http.Request) {
	snap, err := h.bridge.DiscoverSchema(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetCachedSchema(w http.ResponseWriter, r *http.Request) {
	maxAge := service.DefaultMaxAgeHours
	if v := r.URL.Query().Get("maxAgeHours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, core.ValidationError("maxAgeHours must be a non-negative integer"))
			return
		}
		maxAge = n
	}
	snap, err := h.bridge.GetCachedSchema(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), maxAge)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if snap == nil {
		h.writeError(w, r, core.ErrSchemaNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type questionRequest struct {
	Question  string `json:"question"`
	DryRun    bool   `json:"dry_run"`
	MaxRows   int    `json:"max_rows"`
	TimeoutMs int64  `json:"timeout_ms"`
}

func (q questionRequest) options() core.ExecuteOptions {
	return core.ExecuteOptions{
		Timeout: time.Duration(q.TimeoutMs) * time.Millisecond,
		MaxRows: q.MaxRows,
		DryRun:  q.DryRun,
	}
}

func (h *Handler) GenerateQuery(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.bridge.GenerateQuery(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.Question,
		service.GenerateOptions{MaxRows: req.MaxRows})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.bridge.ExecuteNaturalLanguageQuery(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.Question, req.options())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sqlRequest struct {
	SQL       string       `json:"sql"`
	Dialect   core.Dialect `json:"dialect,omitempty"`
	MaxRows   int          `json:"max_rows"`
	TimeoutMs int64        `json:"timeout_ms"`
}

func (h *Handler) ExecuteSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.bridge.ExecuteSQLQuery(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.SQL, core.ExecuteOptions{
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxRows: req.MaxRows,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ExplainQuery(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !h.decode(w, r, &req) {
		return
	}
	text, err := h.bridge.ExplainQuery(r.Context(), req.SQL, req.Dialect)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

func (h *Handler) ValidateQuery(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.bridge.ValidateQuery(req.SQL, req.Dialect))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, core.ValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := h.bridge.GetQueryHistory(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.QueryHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.bridge.ClearQueryHistory(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, core.ValidationError("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrConnectionNotFound), errors.Is(err, core.ErrSchemaNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidationFailed), errors.Is(err, core.ErrUnsupportedDialect):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnsafeQuery):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	SQL   string `json:"sql,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var unsafe *core.UnsafeQueryError
	if errors.As(err, &unsafe) {
		body.SQL = unsafe.SQL
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
