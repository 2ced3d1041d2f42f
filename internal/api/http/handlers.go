package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/extract"
	"github.com/postgate/postgate/internal/observability"
	"github.com/postgate/postgate/internal/pipeline"
	"github.com/postgate/postgate/pkg/types"
)

// DefaultTone is used when a request names no tone.
const DefaultTone = "professional"

// Processor is the pipeline as seen by the handlers.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
	RecordFeedback(ctx context.Context, fb pipeline.Feedback) (types.AnalyticsEvent, error)
}

// Extractor turns uploaded PDF bytes into text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// Exporter writes a post to a file and returns its path.
type Exporter interface {
	Export(text string) (string, error)
}

// GenerateRequest is the JSON body of POST /v1/generate.
type GenerateRequest struct {
	Text    string `json:"text"`
	Tone    string `json:"tone,omitempty"`
	Version string `json:"version,omitempty"`
}

// GenerateHandler handles POST /v1/generate. It accepts either a JSON body
// with the document text or a multipart form with the PDF in "file".
type GenerateHandler struct {
	pipeline       Processor
	extractor      Extractor
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewGenerateHandler creates a generate handler.
func NewGenerateHandler(p Processor, extractor Extractor, maxUploadBytes int64, logger zerolog.Logger) *GenerateHandler {
	return &GenerateHandler{
		pipeline:       p,
		extractor:      extractor,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// ServeHTTP handles the generate request.
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	var req GenerateRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		var err error
		req, err = h.readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err), "", requestID)
			return
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
			return
		}
	}
	if req.Tone == "" {
		req.Tone = DefaultTone
	}

	res := h.pipeline.Process(r.Context(), pipeline.Request{
		Text:      req.Text,
		Tone:      req.Tone,
		Version:   req.Version,
		RequestID: requestID,
	})
	writeJSON(w, resultStatus(res.Status), res)
}

// readUpload extracts the PDF text. Extraction failures become sentinel text
// so the pipeline reports them like any other input error.
func (h *GenerateHandler) readUpload(r *http.Request) (GenerateRequest, error) {
	memory := h.maxUploadBytes
	if memory <= 0 {
		memory = 32 << 20
	}
	if err := r.ParseMultipartForm(memory); err != nil {
		return GenerateRequest{}, err
	}
	req := GenerateRequest{
		Tone:    r.FormValue("tone"),
		Version: r.FormValue("version"),
	}

	var data []byte
	file, _, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return GenerateRequest{}, err
	default:
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			return GenerateRequest{}, err
		}
	}

	text, err := h.extractor.Extract(data)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Msg("pdf extraction failed")
		text = extract.SentinelText(err)
	}
	req.Text = text
	return req, nil
}

func resultStatus(s pipeline.Status) int {
	switch s {
	case pipeline.StatusAccepted:
		return http.StatusOK
	case pipeline.StatusInputError, pipeline.StatusContentError, pipeline.StatusRejectedPII:
		return http.StatusUnprocessableEntity
	case pipeline.StatusExhausted:
		return http.StatusConflict
	case pipeline.StatusBackendError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FeedbackResponse acknowledges a recorded feedback event.
type FeedbackResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

// FeedbackHandler handles POST /v1/feedback.
type FeedbackHandler struct {
	pipeline Processor
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(p Processor) *FeedbackHandler {
	return &FeedbackHandler{pipeline: p}
}

// ServeHTTP handles the feedback request.
func (h *FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var fb pipeline.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	ev, err := h.pipeline.RecordFeedback(r.Context(), fb)
	if err != nil {
		writeClassified(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, FeedbackResponse{
		Status:    "recorded",
		Timestamp: ev.Timestamp.Format(types.TimestampLayout),
		RequestID: requestID,
	})
}

// ExportRequest is the JSON body of POST /v1/export.
type ExportRequest struct {
	Text string `json:"text"`
}

// ExportResponse carries the written file path.
type ExportResponse struct {
	Path      string `json:"path"`
	RequestID string `json:"request_id"`
}

// ExportHandler handles POST /v1/export.
type ExportHandler struct {
	exporter Exporter
}

// NewExportHandler creates an export handler.
func NewExportHandler(e Exporter) *ExportHandler {
	return &ExportHandler{exporter: e}
}

// ServeHTTP handles the export request.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	path, err := h.exporter.Export(req.Text)
	if err != nil {
		writeClassified(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, ExportResponse{Path: path, RequestID: requestID})
}

// StatsResponse lists the most frequent recent outcomes and entity types.
type StatsResponse struct {
	Outcomes []observability.OutcomeStat `json:"outcomes"`
	Entities []observability.OutcomeStat `json:"entities"`
}

// StatsHandler handles GET /v1/stats.
func StatsHandler(stats *observability.OutcomeStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer", "", GetRequestID(r.Context()))
				return
			}
			limit = n
		}
		stats.Prune()
		writeJSON(w, http.StatusOK, StatsResponse{
			Outcomes: stats.TopOutcomes(limit),
			Entities: stats.TopEntities(limit),
		})
	}
}

// HealthHandler handles GET /health.
func HealthHandler(version string, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "postgate",
			"version": version,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	}
}
