package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/windhoek-dev/aegis/internal/config"
	"github.com/windhoek-dev/aegis/internal/emergency"
	"github.com/windhoek-dev/aegis/internal/engine"
	"github.com/windhoek-dev/aegis/internal/geo"
	"github.com/windhoek-dev/aegis/internal/observability"
	"github.com/windhoek-dev/aegis/internal/signal"
	"github.com/windhoek-dev/aegis/internal/store"
)

type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	sessions *emergency.Manager
	store    store.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, sessions *emergency.Manager, st store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		sessions: sessions,
		store:    st,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleStartSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/location", s.handleUpdateLocation)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/escalate", s.handleEscalateSession)
	r.Post("/v1/sessions/{id}/audio", s.handleAppendAudio)
	r.Get("/v1/sessions/{id}/locations", s.handleListLocations)
	r.Post("/v1/signals", s.handleReportSignal)
	r.Get("/v1/threat", s.handleGetThreat)
	r.Post("/v1/monitoring", s.handleSetMonitoring)
	r.Post("/v1/crash/countdown/{id}/cancel", s.handleCancelCountdown)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events/ws", s.handleEventsWS)
	r.Get("/v1/signals/ws", s.handleSignalsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type startSessionRequest struct {
	OwnerID  string  `json:"owner_id"`
	Trigger  string  `json:"trigger,omitempty"`
	Silent   bool    `json:"silent,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	SpeedKmh float64 `json:"speed_kmh,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trigger := emergency.TriggerManual
	switch strings.TrimSpace(req.Trigger) {
	case "", string(emergency.TriggerManual):
	case string(emergency.TriggerAPI):
		trigger = emergency.TriggerAPI
	case string(emergency.TriggerAI):
		trigger = emergency.TriggerAI
	default:
		respondError(w, http.StatusBadRequest, "invalid_trigger", "trigger must be manual, api, or ai")
		return
	}

	loc := geo.Point{Lat: req.Lat, Lng: req.Lng, Accuracy: req.Accuracy, SpeedKmh: req.SpeedKmh}
	sess, err := s.engine.StartSession(r.Context(), req.OwnerID, trigger, loc, req.Silent)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type locationRequest struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy float64   `json:"accuracy,omitempty"`
	SpeedKmh float64   `json:"speed_kmh,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p := geo.Point{Lat: req.Lat, Lng: req.Lng, Accuracy: req.Accuracy, SpeedKmh: req.SpeedKmh}
	sess, err := s.engine.UpdateLocation(r.Context(), id, p, req.At)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type endSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req endSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "user ended"
	}

	sess, err := s.engine.EndSession(r.Context(), id, req.Reason)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEscalateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.engine.EscalateSession(r.Context(), id)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type audioChunkRequest struct {
	PCM16Base64 string `json:"pcm16_base64"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

func (s *Server) handleAppendAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req audioChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.PCM16Base64)
	if err != nil || len(pcm) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_audio", "pcm16_base64 must be non-empty base64")
		return
	}

	chunkID, err := s.engine.AppendAudioChunk(r.Context(), id, pcm, req.SampleRate)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"chunk_id": chunkID})
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		s.respondMapped(w, err)
		return
	}
	recs, err := s.store.Query(r.Context(), store.CollectionLocationLog, store.Filter{"session_id": id})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}
	respondJSON(w, http.StatusOK, map[string]any{"locations": out})
}

type reportSignalRequest struct {
	OwnerID string            `json:"owner_id"`
	Reading signal.RawReading `json:"reading"`
}

func (s *Server) handleReportSignal(w http.ResponseWriter, r *http.Request) {
	var req reportSignalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	st, err := s.engine.ReportSignal(r.Context(), req.OwnerID, req.Reading)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "missing_owner_id", "query parameter owner_id is required")
		return
	}
	respondJSON(w, http.StatusOK, s.engine.GetThreatState(ownerID))
}

type monitoringRequest struct {
	OwnerID string `json:"owner_id"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		respondError(w, http.StatusBadRequest, "missing_owner_id", "owner_id is required")
		return
	}

	s.engine.SetMonitoring(req.OwnerID, req.Enabled)
	respondJSON(w, http.StatusOK, map[string]any{
		"owner_id":   req.OwnerID,
		"monitoring": s.engine.Monitoring(req.OwnerID),
	})
}

type cancelCountdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelCountdown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelCountdownRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.engine.CancelCountdown(id, req.Reason); err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}

// respondMapped converts domain errors into HTTP status codes.
func (s *Server) respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, emergency.ErrNotFound), errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, emergency.ErrAlreadyActive), errors.Is(err, emergency.ErrNotActive):
		respondError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, emergency.ErrValidation), errors.Is(err, geo.ErrInvalidCoordinate):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
