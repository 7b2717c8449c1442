package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
)

const workbookMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PipelineSource returns the recomputed state of a stored pipeline.
type PipelineSource func(ctx context.Context, id uuid.UUID) (domain.Pipeline, error)

type Handler struct {
	source   PipelineSource
	registry *registry.Registry
	logger   hclog.Logger
}

// NewHTTPHandler serves GET .../{id}/lineage.xlsx.
func NewHTTPHandler(source PipelineSource, reg *registry.Registry, logger hclog.Logger) http.Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{source: source, registry: reg, logger: logger.Named("export")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := pipelineIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pipeline, err := h.source(r.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("load pipeline for export", "pipeline", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := WriteLineageWorkbook(&buf, pipeline, Options{Registry: h.registry}); err != nil {
		h.logger.Error("render lineage workbook", "pipeline", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", workbookMimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", FileName(pipeline)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

// pipelineIDFromPath takes the segment before the trailing file name.
func pipelineIDFromPath(path string) (uuid.UUID, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return uuid.Nil, fmt.Errorf("missing pipeline identifier")
	}
	id, err := uuid.Parse(segments[len(segments)-2])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid pipeline identifier: %v", err)
	}
	return id, nil
}
