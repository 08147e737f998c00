package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/firelinehq/incidentd/pkg/lifecycle"
	"github.com/firelinehq/incidentd/pkg/observability"
	"github.com/firelinehq/incidentd/pkg/rulepack"
	"github.com/firelinehq/incidentd/pkg/validation"
)

// Server routes the engine's external interface.
type Server struct {
	ctrl   *lifecycle.Controller
	packs  *rulepack.Store
	logger *slog.Logger
	obs    *observability.Provider
}

// NewServer creates the API server.
func NewServer(ctrl *lifecycle.Controller, packs *rulepack.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ctrl: ctrl, packs: packs, logger: logger}
}

// WithTelemetry attaches a telemetry provider; nil leaves tracing off.
func (s *Server) WithTelemetry(obs *observability.Provider) *Server {
	s.obs = obs
	return s
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/records", s.handleCreate)
	mux.HandleFunc("GET /v1/records/{id}", s.handleGet)
	mux.HandleFunc("PATCH /v1/records/{id}", s.handleMutate)
	mux.HandleFunc("POST /v1/records/{id}/validate", s.handleValidate)
	mux.HandleFunc("POST /v1/records/{id}/export", s.handleExport)
	mux.HandleFunc("PUT /v1/packs", s.handleActivatePack)
	mux.HandleFunc("GET /v1/packs/{jurisdiction}/{profile}", s.handleGetPack)
	return WithRequestLogging(s.logger, WithTracing(s.obs, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.TenantID == "" || req.Jurisdiction == "" || req.Profile == "" {
		WriteBadRequest(w, "tenantId, jurisdiction and profile are required")
		return
	}
	rec, err := s.ctrl.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctrl.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// mutateRequest is the PATCH body: an RFC 7386 merge patch plus the version
// the caller last read. A stale version is a retryable 409, never a silent
// overwrite.
type mutateRequest struct {
	Patch           map[string]any `json:"patch"`
	ExpectedVersion int64          `json:"expectedVersion"`
}

type mutateResponse struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req mutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	rec, err := s.ctrl.Mutate(r.Context(), r.PathValue("id"), req.Patch, req.ExpectedVersion)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutateResponse{Status: string(rec.Status), Version: rec.Version})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.ctrl.Validate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Issues are first-class data for rendering, not an error condition.
	writeJSON(w, http.StatusOK, result)
}

// exportResponse carries the artifact with its deterministic bytes
// base64-encoded. File naming is the caller's concern.
type exportResponse struct {
	IncidentID        string `json:"incidentId"`
	GeneratedAt       string `json:"generatedAt"`
	Format            string `json:"format"`
	ContentHash       string `json:"contentHash"`
	SourceFingerprint string `json:"sourceFingerprint"`
	PackVersion       string `json:"packVersion"`
	Body              []byte `json:"body"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.ctrl.RequestExport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{
		IncidentID:        artifact.IncidentID,
		GeneratedAt:       artifact.GeneratedAt.Format(time.RFC3339Nano),
		Format:            artifact.Format,
		ContentHash:       artifact.ContentHash,
		SourceFingerprint: artifact.SourceFingerprint,
		PackVersion:       artifact.PackVersion,
		Body:              artifact.Body,
	})
}

func (s *Server) handleActivatePack(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	compiled, err := s.ctrl.ActivatePack(r.Context(), doc)
	if err != nil {
		// A rejected document is the client's fault; a failed archive
		// write or audit append is ours.
		if errors.Is(err, rulepack.ErrInvalidPack) {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compiled.Pack)
}

func (s *Server) handleGetPack(w http.ResponseWriter, r *http.Request) {
	compiled, err := s.packs.GetActive(r.Context(), r.PathValue("jurisdiction"), r.PathValue("profile"))
	if err != nil {
		if errors.Is(err, rulepack.ErrNoActivePack) {
			WriteNotFound(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compiled.Pack)
}

// writeDomainError maps the lifecycle error taxonomy onto HTTP.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		conflict *lifecycle.StateConflictError
		notFound *lifecycle.NotFoundError
		illegal  *lifecycle.IllegalStateError
		exp      *lifecycle.ExportError
	)
	switch {
	case errors.As(err, &conflict):
		WriteConflict(w, "VERSION_CONFLICT", conflict.Error(), true)
	case errors.As(err, &notFound):
		WriteNotFound(w, notFound.Error())
	case errors.As(err, &illegal):
		WriteConflict(w, illegal.Reason, illegal.Error(), false)
	case errors.As(err, &exp):
		s.logger.Error("export failed", "error", exp)
		WriteError(w, http.StatusBadGateway, "Export Failed", exp.Error())
	case errors.Is(err, validation.ErrPayloadTooDeep), errors.Is(err, validation.ErrPayloadTooLarge):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
