package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
)

const maxBodyBytes = 32 << 20

type runRequest struct {
	Documents   []models.Document `json:"documents"`
	QueryVector []float32         `json:"query_vector,omitempty"`
	QueryIndex  int               `json:"query_index"`
	TopK        int               `json:"top_k"`
	SkipQuery   bool              `json:"skip_query"`
}

type ingestRequest struct {
	Documents []models.Document `json:"documents"`
}

type queryRequest struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector,omitempty"`
	TopK   int       `json:"top_k"`
}

type deleteRequest struct {
	IDs   []string `json:"ids"`
	Key   string   `json:"key"`
	Value string   `json:"value"`
}

type pointResponse struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("run request", zap.Int("documents", len(req.Documents)), zap.Int("top_k", req.TopK))
	res, err := s.pipeline.Run(r.Context(), pipeline.RunRequest{
		Documents:   req.Documents,
		QueryVector: req.QueryVector,
		QueryIndex:  req.QueryIndex,
		TopK:        req.TopK,
		SkipQuery:   req.SkipQuery,
	})
	if err != nil {
		s.failRun(w, res, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	s.logger.Debug("ingest request", zap.Int("documents", len(req.Documents)))
	res, err := s.pipeline.Ingest(r.Context(), req.Documents)
	if err != nil {
		s.failRun(w, res, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	var (
		matches []models.Match
		err     error
	)
	switch {
	case req.Vector != nil:
		matches, err = s.pipeline.QueryVector(r.Context(), req.Vector, req.TopK)
	case req.Text != "":
		matches, err = s.pipeline.Query(r.Context(), req.Text, req.TopK)
	default:
		s.respondError(w, http.StatusBadRequest, "text or vector is required")
		return
	}
	if err != nil {
		s.fail(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleCollectionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.pipeline.Info(r.Context())
	if err != nil {
		s.fail(w, "collection info failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// pointID returns the unescaped {id} route parameter. Document IDs may contain '#'.
func pointID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if u, err := url.PathUnescape(id); err == nil {
		return u
	}
	return id
}

func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	id := pointID(r)
	recs, err := s.pipeline.Get(r.Context(), []string{id})
	if err != nil {
		s.fail(w, "get point failed", err)
		return
	}
	if len(recs) == 0 {
		s.respondError(w, http.StatusNotFound, "point not found")
		return
	}
	resp := pointResponse{ID: recs[0].ID, Payload: recs[0].Payload}
	if r.URL.Query().Get("with_vector") == "true" {
		resp.Vector = recs[0].Vector
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePoint(w http.ResponseWriter, r *http.Request) {
	id := pointID(r)
	s.logger.Debug("delete point request", zap.String("id", id))
	if err := s.pipeline.Delete(r.Context(), []string{id}); err != nil {
		s.fail(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeletePoints(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case len(req.IDs) > 0:
		err = s.pipeline.Delete(r.Context(), req.IDs)
	case req.Key != "":
		err = s.pipeline.DeleteWhere(r.Context(), req.Key, req.Value)
	default:
		s.respondError(w, http.StatusBadRequest, "ids or key is required")
		return
	}
	if err != nil {
		s.fail(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "collection": s.pipeline.Collection()})
}

// failRun reports a failed run together with its partial result.
func (s *Server) failRun(w http.ResponseWriter, res *pipeline.RunResult, err error) {
	status := statusFor(err)
	s.logger.Error("run failed", zap.Int("status", status), zap.Error(err))
	s.respondJSON(w, status, map[string]any{"error": err.Error(), "result": res})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	s.logger.Error(msg, zap.Int("status", status), zap.Error(err))
	s.respondError(w, status, err.Error())
}

// statusFor maps pipeline and index errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		payloadErr *pipeline.PayloadEncodingError
		schemaErr  *pipeline.SchemaMismatchError
		alignErr   *pipeline.AlignmentError
		engineErr  *pipeline.EngineError
	)
	switch {
	case errors.Is(err, pipeline.ErrInvalidTopK),
		errors.Is(err, pipeline.ErrQueryIndexOutOfRange),
		errors.As(err, &payloadErr):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr):
		return http.StatusConflict
	case errors.Is(err, index.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, index.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &alignErr), errors.As(err, &engineErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
