package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/setpoint/internal/advisor"
	apperrors "github.com/copyleftdev/setpoint/internal/errors"
	"github.com/copyleftdev/setpoint/internal/logging"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// maxBodyBytes bounds request bodies; a snapshot batch is the largest payload.
const maxBodyBytes = 8 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC transport of the advisor.
// Optimization requests run synchronously on the caller's context; Close
// cancels any that are still in flight.
type Server struct {
	engine  *advisor.Engine
	results *advisor.ResultLog
	logger  Logger

	baseCtx context.Context
	stop    context.CancelFunc

	inflightMu sync.Mutex
	inflight   int
}

// NewServer creates a server over engine. results backs the optimization
// history endpoints and must also be registered as a sink on the engine.
func NewServer(engine *advisor.Engine, results *advisor.ResultLog, logger Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		engine:  engine,
		results: results,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/snapshots", s.handleSnapshots)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/optimizations", s.handleListOptimizations)
		r.Get("/optimizations/{id}", s.handleGetOptimization)
		r.Get("/pricing", s.handlePricing)
		r.Get("/model", s.handleModel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// optimize runs one cycle on a context that ends with either the request
// or the server.
func (s *Server) optimize(ctx context.Context, req advisor.Request) (*advisor.Response, error) {
	if err := s.baseCtx.Err(); err != nil {
		return nil, fmt.Errorf("server is shutting down: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(s.baseCtx, cancel)
	defer stopAfter()

	s.inflightMu.Lock()
	s.inflight++
	s.inflightMu.Unlock()
	defer func() {
		s.inflightMu.Lock()
		s.inflight--
		s.inflightMu.Unlock()
	}()

	return s.engine.Optimize(ctx, req)
}

// InFlight reports the number of optimizations currently running.
func (s *Server) InFlight() int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.inflight
}

// Close cancels running optimizations.
func (s *Server) Close() error {
	s.stop()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"history": s.engine.Store().Len(),
	})
}

// handleSnapshots ingests one telemetry snapshot or an array of them.
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apperrors.WriteJSON(w, apperrors.Wrap(err, apperrors.KindInvalidRequest, "read body"))
		return
	}

	snaps, err := plant.DecodeSnapshots(data, time.Now())
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	n := s.engine.Ingest(snaps...)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": len(snaps),
		"history":  n,
	})
}

// handleOptimize runs an optimization. An empty body uses the defaults.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req advisor.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		apperrors.WriteJSON(w, apperrors.Wrap(err, apperrors.KindInvalidRequest, "invalid request body"))
		return
	}

	resp, err := s.optimize(r.Context(), req)
	if err != nil {
		s.logger.Warn("Optimization failed", map[string]interface{}{
			"segment": req.Segment,
			"kind":    apperrors.KindOf(err).String(),
			"error":   err.Error(),
		})
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOptimizations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apperrors.WriteJSON(w, apperrors.Errorf(apperrors.KindInvalidRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}

	responses := s.results.List(limit)
	records := make([]advisor.Record, 0, len(responses))
	for _, resp := range responses {
		records = append(records, resp.Record())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": records})
}

func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, ok := s.results.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "optimization not found",
			"id":    id,
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Pricing(r.Context()))
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":   s.engine.ModelStatus(),
		"history": s.engine.Store().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
