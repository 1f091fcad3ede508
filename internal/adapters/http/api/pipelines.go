package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/logger"
)

const (
	defaultMaxBodyBytes int64 = 10 << 20
	multipartMemory     int64 = 1 << 20
)

// createRequest mirrors the OpenAPI schema for a JSON POST /pipelines.
type createRequest struct {
	Transcript string   `json:"transcript"`
	Models     []string `json:"models"`
}

type createResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

type stageResponse struct {
	ID     string      `json:"id"`
	Stage  model.Stage `json:"stage"`
	Status string      `json:"status"`
}

// PipelinesHandler serves the pipeline resource.
type PipelinesHandler struct {
	deps         Dependencies
	log          logger.Logger
	maxBodyBytes int64
}

// NewPipelinesHandler creates a pipelines handler.
func NewPipelinesHandler(deps Dependencies, log logger.Logger, maxBodyBytes int64) *PipelinesHandler {
	return &PipelinesHandler{deps: deps, log: log, maxBodyBytes: maxBodyBytes}
}

// HandleCreate handles POST /pipelines. It accepts a JSON body or a
// multipart form with a transcript file and repeated models fields.
func (h *PipelinesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_pipeline"
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	req, err := decodeCreate(r)
	if err != nil {
		h.fail(w, r, model.WrapKind(op, ErrBadRequest, err))
		return
	}
	p, err := h.deps.CreatePipeline(r.Context(), req.Transcript, req.Models)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: p.ID, Status: p.Status})
}

// HandleList handles GET /pipelines.
func (h *PipelinesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.ListPipelines(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Pipeline{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /pipelines/{id}.
func (h *PipelinesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleProgress handles GET /pipelines/{id}/progress.
func (h *PipelinesHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := h.deps.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// HandleAnalyze handles POST /pipelines/{id}/analyze.
func (h *PipelinesHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.TriggerAnalysis(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stageResponse{ID: id, Stage: model.StageAnalyze, Status: "accepted"})
}

// HandleEvaluate handles POST /pipelines/{id}/evaluate.
func (h *PipelinesHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.TriggerEvaluation(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stageResponse{ID: id, Stage: model.StageEvaluate, Status: "accepted"})
}

// HandleCancel handles POST /pipelines/{id}/cancel.
func (h *PipelinesHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Cancel(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (h *PipelinesHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func decodeCreate(r *http.Request) (createRequest, error) {
	ct := r.Header.Get("Content-Type")
	mediaType := "application/json"
	if ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return createRequest{}, fmt.Errorf("%w: %w", ErrUnsupportedMedia, err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return createRequest{}, fmt.Errorf("decode body: %w", err)
		}
		return req, nil
	case "multipart/form-data":
		return decodeMultipart(r)
	default:
		return createRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mediaType)
	}
}

// decodeMultipart reads the transcript from an uploaded file, or from a
// plain form value when no file is attached.
func decodeMultipart(r *http.Request) (createRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return createRequest{}, fmt.Errorf("parse form: %w", err)
	}
	req := createRequest{Models: r.MultipartForm.Value["models"]}

	f, _, err := r.FormFile("transcript")
	switch {
	case err == nil:
		defer func() { _ = f.Close() }()
		b, rerr := io.ReadAll(f)
		if rerr != nil {
			return createRequest{}, fmt.Errorf("read transcript: %w", rerr)
		}
		req.Transcript = string(b)
	case errors.Is(err, http.ErrMissingFile):
		vals := r.MultipartForm.Value["transcript"]
		if len(vals) == 0 {
			return createRequest{}, ErrMissingTranscript
		}
		req.Transcript = strings.Join(vals, "\n")
	default:
		return createRequest{}, fmt.Errorf("read transcript: %w", err)
	}
	return req, nil
}
