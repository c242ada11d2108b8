package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/health"
	"github.com/dreamware/raidbd/internal/logging"
	"github.com/dreamware/raidbd/internal/raid"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                          `json:"status"`
	Arrays  int                             `json:"arrays"`
	Online  int                             `json:"online"`
	Mirrors map[string]*health.MirrorHealth `json:"mirrors,omitempty"`
}

// ArraysResponse is the body of GET /arrays.
type ArraysResponse struct {
	Arrays []raid.Info `json:"arrays"`
}

// RemoveRequest is the body of POST /arrays/{name}/mirrors/{slot}/remove.
type RemoveRequest struct {
	Reason string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the arrays of a Registry over HTTP.
type Server struct {
	registry *raid.Registry
	monitor  *health.Monitor
	timeout  time.Duration
	log      zerolog.Logger
}

// NewServer returns a Server over reg. monitor may be nil.
func NewServer(reg *raid.Registry, monitor *health.Monitor) *Server {
	return &Server{
		registry: reg,
		monitor:  monitor,
		timeout:  5 * time.Second,
		log:      logging.Component("admin"),
	}
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /arrays", s.handleListArrays)
	mux.HandleFunc("GET /arrays/{name}", s.handleGetArray)
	mux.HandleFunc("POST /arrays/{name}/mirrors/{slot}/remove", s.handleRemoveMirror)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	for _, arr := range s.registry.List() {
		resp.Arrays++
		if arr.State() == raid.StateOnline {
			resp.Online++
		}
	}
	if resp.Online < resp.Arrays {
		resp.Status = "degraded"
	}
	if s.monitor != nil {
		resp.Mirrors = s.monitor.All()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListArrays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ArraysResponse{Arrays: s.registry.Infos()})
}

func (s *Server) handleGetArray(w http.ResponseWriter, r *http.Request) {
	arr, ok := s.registry.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "array not found")
		return
	}
	writeJSON(w, http.StatusOK, arr.Info())
}

func (s *Server) handleRemoveMirror(w http.ResponseWriter, r *http.Request) {
	arr, ok := s.registry.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "array not found")
		return
	}
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot must be an integer")
		return
	}

	var req RemoveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	s.log.Warn().Str("array", arr.Name).Int("slot", slot).Str("reason", req.Reason).Msg("mirror removal requested")
	if err := RemoveMirror(ctx, arr, slot); err != nil {
		switch {
		case errors.Is(err, raid.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, arr.Info())
}

// RemoveMirror removes slot from arr and waits until every channel has
// dropped it.
func RemoveMirror(ctx context.Context, arr *raid.Array, slot int) error {
	done := make(chan error, 1)
	arr.RemoveBaseBdev(slot, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "remove %s slot %d", arr.Name, slot)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
