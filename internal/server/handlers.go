package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartflow-crm/inference-gateway/internal/breaker"
	"github.com/smartflow-crm/inference-gateway/internal/cache"
	"github.com/smartflow-crm/inference-gateway/internal/callcontext"
	"github.com/smartflow-crm/inference-gateway/internal/gpu"
	"github.com/smartflow-crm/inference-gateway/internal/orchestrator"
	"github.com/smartflow-crm/inference-gateway/internal/persona"
	"github.com/smartflow-crm/inference-gateway/internal/session"
)

// Inferencer is the orchestrated inference entry point.
type Inferencer interface {
	Infer(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// HealthSource exposes the cached GPU backend snapshot.
type HealthSource interface {
	Snapshot() gpu.Snapshot
}

// Handler owns the HTTP surface of the inference service.
type Handler struct {
	Inference Inferencer
	Sessions  *session.Store
	Contexts  *callcontext.Store
	Cache     *cache.ResponseCache
	Breakers  []*breaker.Breaker
	GPU       HealthSource
	Logger    *slog.Logger

	started time.Time
}

// Mount attaches all routes. Health and metrics stay unauthenticated
// so load balancers and scrapers work without credentials; everything
// else sits behind the API key when one is configured.
func (h *Handler) Mount(r chi.Router, apiKey string) {
	h.started = time.Now()

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(apiKey))

		r.Post("/infer", h.infer)
		r.Get("/personas", h.personas)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.listSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", h.endSession)
				r.Post("/context", h.addContext)
				r.Get("/context", h.getContext)
				r.Delete("/context", h.deleteContext)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/breakers", h.breakerStats)
			r.Post("/breakers/{name}/reset", h.resetBreaker)
			r.Post("/cache/flush", h.flushCache)
		})
	})
}

// maxTextLen caps utterance length. STT segments run well under this;
// anything longer is a misbehaving client, not speech.
const maxTextLen = 2000

func (h *Handler) infer(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if utf8.RuneCountInString(req.Text) > maxTextLen {
		writeError(w, http.StatusBadRequest, "text exceeds 2000 characters")
		return
	}

	res := h.Inference.Infer(r.Context(), req)
	AddLogField(r.Context(), "source", res.Source)
	AddLogField(r.Context(), "intent", res.Intent)
	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Breakers      map[string]breaker.Stats `json:"breakers"`
	Cache         cache.Stats              `json:"cache"`
	Sessions      int                      `json:"sessions"`
	GPU           gpu.Snapshot             `json:"gpu"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]breaker.Stats, len(h.Breakers))
	for _, b := range h.Breakers {
		breakers[b.Name()] = b.Stats()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Breakers:      breakers,
		Cache:         h.Cache.Stats(),
		Sessions:      h.Sessions.Count(),
		GPU:           h.GPU.Snapshot(),
	})
}

func (h *Handler) personas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"personas": persona.List(),
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.Sessions.List(),
	})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary := h.Sessions.End(id)
	if summary == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.Contexts.Delete(id)
	writeJSON(w, http.StatusOK, summary)
}

type contextAddRequest struct {
	Type       string            `json:"type"`
	Data       map[string]string `json:"data"`
	Priority   string            `json:"priority"`
	Source     string            `json:"source"`
	TTLSeconds int               `json:"ttl_seconds"`
}

func (h *Handler) addContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req contextAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	entry := h.Contexts.Add(id, req.Type, req.Data, req.Priority, req.Source,
		time.Duration(req.TTLSeconds)*time.Second)
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"entries":    h.Contexts.Get(id),
	})
}

func (h *Handler) deleteContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": h.Contexts.Delete(id),
	})
}

func (h *Handler) breakerStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]breaker.Stats, len(h.Breakers))
	for _, b := range h.Breakers {
		stats[b.Name()] = b.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, b := range h.Breakers {
		if b.Name() == name {
			b.Reset()
			h.Logger.Info("breaker reset via admin API", slog.String("breaker", name))
			writeJSON(w, http.StatusOK, b.Stats())
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown breaker")
}

func (h *Handler) flushCache(w http.ResponseWriter, r *http.Request) {
	h.Cache.Flush()
	h.Logger.Info("response cache flushed via admin API")
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
