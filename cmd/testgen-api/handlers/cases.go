package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/fileparse"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/pipeline"
	"github.com/spherical/prd-testgen/internal/stream"
)

// multipart framing allowance on top of the file limit
const multipartOverhead = 1 << 20

// Runner executes the pipeline for one source.
type Runner interface {
	Run(ctx context.Context, src domain.DocumentSource, em *stream.Emitter) error
}

// UploadParser validates and wraps uploaded files.
type UploadParser interface {
	Validate(u fileparse.Upload) error
	MaxBytes() int64
	NewSource(u fileparse.Upload) *fileparse.Source
}

// CasesHandler streams test case generation for each input kind.
type CasesHandler struct {
	logger *observability.Logger
	runner Runner
	remote func(locator string) domain.DocumentSource
	files  UploadParser
}

// NewCasesHandler creates a new cases handler.
func NewCasesHandler(logger *observability.Logger, runner Runner, remote func(string) domain.DocumentSource, files UploadParser) *CasesHandler {
	return &CasesHandler{
		logger: logger.WithOperation("cases_handler"),
		runner: runner,
		remote: remote,
		files:  files,
	}
}

// FeishuRequestDTO is the body of POST /cases/feishu.
type FeishuRequestDTO struct {
	URL string `json:"url"`
}

// TextRequestDTO is the body of POST /cases/text.
type TextRequestDTO struct {
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Feishu handles POST /cases/feishu.
func (h *CasesHandler) Feishu(w http.ResponseWriter, r *http.Request) {
	var req FeishuRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	h.stream(w, r, h.remote(strings.TrimSpace(req.URL)))
}

// Text handles POST /cases/text.
func (h *CasesHandler) Text(w http.ResponseWriter, r *http.Request) {
	var req TextRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required", "")
		return
	}

	h.stream(w, r, pipeline.TextSource{Name: req.Name, Content: req.Content})
}

// File handles POST /cases/file with a multipart "file" field.
func (h *CasesHandler) File(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.files.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload", err.Error())
		return
	}

	upload := fileparse.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := h.files.Validate(upload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}

	h.stream(w, r, h.files.NewSource(upload))
}

// stream commits the NDJSON response and runs the pipeline. After this point
// every failure is reported in-band.
func (h *CasesHandler) stream(w http.ResponseWriter, r *http.Request, src domain.DocumentSource) {
	ctx := r.Context()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	em := stream.NewEmitter(stream.NewNDJSONSink(w), h.logger)
	if err := h.runner.Run(ctx, src, em); err != nil {
		h.logger.WithContext(ctx).Warn().
			Str("source", src.Describe()).
			Err(err).
			Msg("stream ended with error")
	}
}
