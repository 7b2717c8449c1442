// Package api exposes pipeline validation, recomputation and persistence over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/engine"
	"github.com/rpattn/dataflow/internal/execution"
	"github.com/rpattn/dataflow/internal/export"
	"github.com/rpattn/dataflow/internal/graph"
	"github.com/rpattn/dataflow/internal/repository"
	"github.com/rpattn/dataflow/internal/xjson"
)

const maxBodyBytes = 8 << 20

// sessionLimit bounds how many pipelines keep an in-memory session. The least
// recently used session is dropped first and rebuilt on its next request.
const sessionLimit = 1024

type Handler struct {
	engine *engine.Engine
	repo   repository.PipelineRepository
	logger hclog.Logger
	mux    *http.ServeMux

	mu       sync.Mutex
	sessions *lru.Cache[uuid.UUID, *engine.Session]
}

// NewHandler wires every route. repo may be nil, in which case only the
// stateless validate endpoint is served.
func NewHandler(e *engine.Engine, repo repository.PipelineRepository, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &Handler{
		engine:   e,
		repo:     repo,
		logger:   logger.Named("api"),
		mux:      http.NewServeMux(),
		sessions: newSessionCache(sessionLimit),
	}
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.HandleFunc("POST /pipelines/validate", h.handleValidate)
	h.mux.HandleFunc("GET /registry/fields", h.handleRegistryFields)
	h.mux.HandleFunc("GET /registry/fields/{id}", h.handleRegistryField)
	h.mux.HandleFunc("GET /pipelines", h.withRepo(h.handleList))
	h.mux.HandleFunc("POST /pipelines", h.withRepo(h.handleCreate))
	h.mux.HandleFunc("GET /pipelines/{id}", h.withRepo(h.handleGet))
	h.mux.HandleFunc("PUT /pipelines/{id}", h.withRepo(h.handleUpdate))
	h.mux.HandleFunc("DELETE /pipelines/{id}", h.withRepo(h.handleDelete))
	h.mux.HandleFunc("POST /pipelines/{id}/recompute", h.withRepo(h.handleRecompute))
	h.mux.HandleFunc("POST /pipelines/{id}/preview", h.withRepo(h.handlePreview))
	h.mux.HandleFunc("GET /pipelines/{id}/lineage", h.withRepo(h.handleLineage))
	h.mux.Handle("GET /pipelines/{id}/lineage.xlsx", h.withRepo(
		export.NewHTTPHandler(h.current, e.Registry(), logger).ServeHTTP,
	))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// pipelineResponse is the recomputed pipeline with the operators that
// prevent saving it.
type pipelineResponse struct {
	Pipeline domain.Pipeline    `json:"pipeline"`
	Blocking []blockingOperator `json:"blocking,omitempty"`
	Version  uint64             `json:"version,omitempty"`
}

type blockingOperator struct {
	OperatorID  string                `json:"operatorId"`
	Kind        domain.OperatorKind   `json:"kind"`
	Error       *domain.OperatorError `json:"error,omitempty"`
	FieldErrors []domain.FieldError   `json:"fieldErrors,omitempty"`
}

func newPipelineResponse(p domain.Pipeline, version uint64) pipelineResponse {
	resp := pipelineResponse{Pipeline: p, Version: version}
	for _, op := range p.Blocking() {
		resp.Blocking = append(resp.Blocking, blockingOperator{
			OperatorID:  op.ID,
			Kind:        op.Kind,
			Error:       op.Error,
			FieldErrors: op.FieldErrors,
		})
	}
	return resp
}

func (h *Handler) withRepo(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.repo == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("pipeline storage is not configured"))
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := decodePipeline(w, r)
	if !ok {
		return
	}
	result, err := h.engine.Recompute(r.Context(), pipeline)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPipelineResponse(result, 0))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	pipelines, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := decodePipeline(w, r)
	if !ok {
		return
	}
	pipeline.ID = uuid.New()
	if strings.TrimSpace(pipeline.Name) == "" {
		writeError(w, http.StatusBadRequest, errors.New("pipeline name is required"))
		return
	}
	result, err := h.engine.Recompute(r.Context(), pipeline)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if len(result.Blocking()) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, newPipelineResponse(result, 0))
		return
	}
	created, err := h.repo.Create(r.Context(), result)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPipelineResponse(created, 0))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stored, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	session := h.session(stored)
	result, err := session.Apply(r.Context(), stored)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	_, version := session.Snapshot()
	writeJSON(w, http.StatusOK, newPipelineResponse(result, version))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pipeline, ok := decodePipeline(w, r)
	if !ok {
		return
	}
	pipeline.ID = id
	stored, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	session := h.session(stored)
	result, err := session.Apply(r.Context(), pipeline)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	_, version := session.Snapshot()
	if len(result.Blocking()) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, newPipelineResponse(result, version))
		return
	}
	updated, err := h.repo.Update(r.Context(), result)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPipelineResponse(updated, version))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.sessions.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleRecompute applies an edited draft without saving it. With ?node= and
// ?operator= only that operator onward and its downstream nodes are re-evaluated.
func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	draft, ok := decodePipeline(w, r)
	if !ok {
		return
	}
	draft.ID = id
	stored, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	session := h.session(stored)

	var result domain.Pipeline
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		result, err = session.Apply(r.Context(), draft)
	} else {
		var index int
		index, err = operatorIndex(draft, nodeID, r.URL.Query().Get("operator"))
		if err == nil {
			result, err = session.ApplyFrom(r.Context(), draft, nodeID, index)
		}
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	_, version := session.Snapshot()
	writeJSON(w, http.StatusOK, newPipelineResponse(result, version))
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, errors.New("node query parameter is required"))
		return
	}
	current, err := h.current(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	preview, err := h.engine.Preview(r.Context(), current, nodeID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleLineage traces ?field= (and ?source=) back from ?operator=.
func (h *Handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	operatorID, fieldID := query.Get("operator"), query.Get("field")
	if operatorID == "" || fieldID == "" {
		writeError(w, http.StatusBadRequest, errors.New("operator and field query parameters are required"))
		return
	}
	current, err := h.current(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	node, index, found := current.Operator(operatorID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", domain.ErrOperatorNotFound, operatorID))
		return
	}
	key := domain.FieldKey{ID: fieldID, SourceID: query.Get("source")}
	if key.SourceID == "" {
		field, found := domain.FindFieldByID(node.Formula[index].OutputFields, fieldID)
		if !found {
			writeError(w, http.StatusNotFound, fmt.Errorf("field %s is not an output of operator %s", fieldID, operatorID))
			return
		}
		key = field.Key()
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": current.Lineage(operatorID, key)})
}

// current returns the session snapshot of a stored pipeline, recomputing it
// first when no pass has been published yet.
func (h *Handler) current(ctx context.Context, id uuid.UUID) (domain.Pipeline, error) {
	session, found := h.sessions.Get(id)
	if found {
		if snapshot, version := session.Snapshot(); version > 0 {
			return snapshot, nil
		}
	}
	stored, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	return h.session(stored).Apply(ctx, stored)
}

func (h *Handler) session(p domain.Pipeline) *engine.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, found := h.sessions.Get(p.ID)
	if !found {
		session = engine.NewSession(h.engine, p)
		h.sessions.Add(p.ID, session)
	}
	return session
}

func newSessionCache(size int) *lru.Cache[uuid.UUID, *engine.Session] {
	cache, err := lru.New[uuid.UUID, *engine.Session](size)
	if err != nil {
		panic(err)
	}
	return cache
}

// registryEntry is a field known to the registry and its sensitivity flag.
type registryEntry struct {
	Field     domain.Field `json:"field"`
	Sensitive bool         `json:"sensitive"`
}

func (h *Handler) handleRegistryFields(w http.ResponseWriter, _ *http.Request) {
	reg := h.engine.Registry()
	fields := reg.Fields()
	entries := make([]registryEntry, 0, len(fields))
	for _, field := range fields {
		entries = append(entries, registryEntry{Field: field, Sensitive: reg.IsSensitive(field.Key())})
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": entries})
}

func (h *Handler) handleRegistryField(w http.ResponseWriter, r *http.Request) {
	entry, found := h.engine.Registry().Field(r.PathValue("id"))
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("field %s is not registered", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, registryEntry{Field: entry.Field, Sensitive: entry.Sensitive})
}

func operatorIndex(p domain.Pipeline, nodeID, operatorID string) (int, error) {
	node, found := p.NodeByID(nodeID)
	if !found {
		return 0, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, nodeID)
	}
	if operatorID == "" {
		return 0, nil
	}
	index, found := node.OperatorIndex(operatorID)
	if !found {
		return 0, fmt.Errorf("%w: %s", domain.ErrOperatorNotFound, operatorID)
	}
	return index, nil
}

// assignIDs gives server-side ids to nodes and operators created without one.
func assignIDs(p *domain.Pipeline) {
	for i := range p.Nodes {
		node := &p.Nodes[i]
		if node.ID == "" {
			node.ID = uuid.NewString()
		}
		for j := range node.Formula {
			if node.Formula[j].ID == "" {
				node.Formula[j].ID = uuid.NewString()
			}
		}
	}
}

func decodePipeline(w http.ResponseWriter, r *http.Request) (domain.Pipeline, bool) {
	defer r.Body.Close()
	var pipeline domain.Pipeline
	if err := xjson.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&pipeline); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pipeline payload: %w", err))
		return domain.Pipeline{}, false
	}
	if pipeline.Nodes == nil {
		pipeline.Nodes = []domain.Node{}
	}
	assignIDs(&pipeline)
	return pipeline, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pipeline identifier: %v", err))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, graph.ErrCycle), errors.Is(err, engine.ErrNotPreviewable):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, engine.ErrStalePass), errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, execution.ErrNotConfigured):
		writeError(w, http.StatusNotImplemented, err)
	default:
		h.logger.Error("recompute failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if domain.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	h.logger.Error("pipeline storage failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := xjson.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
