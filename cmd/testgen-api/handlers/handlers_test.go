package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/fileparse"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/storage"
	"github.com/spherical/prd-testgen/internal/stream"
)

// loadingRunner loads the source and reports its node count.
type loadingRunner struct {
	mu      sync.Mutex
	sources []string
}

func (r *loadingRunner) Run(ctx context.Context, src domain.DocumentSource, em *stream.Emitter) error {
	r.mu.Lock()
	r.sources = append(r.sources, src.Describe())
	r.mu.Unlock()

	return em.Guard(func() error {
		if err := em.Log("Parsing " + src.Describe()); err != nil {
			return err
		}
		doc, err := src.Load(ctx)
		if err != nil {
			return err
		}
		if err := em.Images(map[string]string{}); err != nil {
			return err
		}
		return em.Done(doc.Nodes[0].Content)
	})
}

type namedSource struct{ name string }

func (s namedSource) Load(context.Context) (*domain.Document, error) {
	return nil, domain.DocumentFetchError(s.name, "list blocks", errors.New("forbidden"))
}

func (s namedSource) Describe() string { return "feishu document " + s.name }

func newCasesHandler(runner Runner) *CasesHandler {
	remote := func(locator string) domain.DocumentSource { return namedSource{name: locator} }
	return NewCasesHandler(observability.Nop(), runner, remote, fileparse.NewParser(64, nil))
}

func readEvents(t *testing.T, body []byte) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var ev domain.StreamEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestCasesHandler_Text(t *testing.T) {
	runner := &loadingRunner{}
	h := newCasesHandler(runner)

	rec := httptest.NewRecorder()
	h.Text(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cases/text", strings.NewReader(`{"content":"spec text"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.Bytes())
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventLog, events[0].Type)
	assert.Equal(t, domain.EventImages, events[1].Type)
	assert.Equal(t, domain.EventDone, events[2].Type)
	assert.Equal(t, "spec text", events[2].Message)
}

func TestCasesHandler_FeishuErrorIsInBand(t *testing.T) {
	runner := &loadingRunner{}
	h := newCasesHandler(runner)

	rec := httptest.NewRecorder()
	h.Feishu(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cases/feishu",
		strings.NewReader(`{"url":" https://acme.feishu.cn/docx/DocABC "}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"feishu document https://acme.feishu.cn/docx/DocABC"}, runner.sources)

	events := readEvents(t, rec.Body.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventError, events[1].Type)
	assert.Equal(t, domain.StageParse, events[1].Stage)
	assert.Contains(t, events[1].Message, "forbidden")
}

func TestCasesHandler_BadRequests(t *testing.T) {
	h := newCasesHandler(&loadingRunner{})

	tests := []struct {
		name    string
		handler http.HandlerFunc
		body    string
		want    string
	}{
		{"feishu bad json", h.Feishu, `{`, "invalid request body"},
		{"feishu missing url", h.Feishu, `{"url":"  "}`, "url is required"},
		{"text missing content", h.Text, `{"content":""}`, "content is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCasesHandler_File(t *testing.T) {
	runner := &loadingRunner{}
	h := newCasesHandler(runner)

	rec := httptest.NewRecorder()
	h.File(rec, multipartUpload(t, "prd.txt", "text/plain", []byte("spec text")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"uploaded file prd.txt"}, runner.sources)
	events := readEvents(t, rec.Body.Bytes())
	assert.Equal(t, "spec text", events[len(events)-1].Message)
}

func TestCasesHandler_FileRejectedBeforeStreaming(t *testing.T) {
	h := newCasesHandler(&loadingRunner{})

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"empty file", multipartUpload(t, "empty.txt", "text/plain", nil)},
		{"over limit", multipartUpload(t, "big.txt", "text/plain", bytes.Repeat([]byte("x"), 65))},
		{"no file field", httptest.NewRequest(http.MethodPost, "/api/v1/cases/file", strings.NewReader("plain"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.File(rec, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

// memoryStore is a map-backed domain.ResultStore.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
	err  error
}

func (s *memoryStore) Save(_ context.Context, payload json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	key := "K" + strings.Repeat("0", 6) + string(rune('0'+len(s.data)))
	s.data[key] = payload
	return key, nil
}

func (s *memoryStore) Load(_ context.Context, key string) (*domain.SavedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &domain.SavedResult{Key: key, Payload: payload}, nil
}

func resultsRouter(store domain.ResultStore) http.Handler {
	h := NewResultsHandler(observability.Nop(), store, 1024)
	r := chi.NewRouter()
	r.Post("/results", h.Save)
	r.Get("/results/{key}", h.Get)
	return r
}

func TestResultsHandler_SaveAndGet(t *testing.T) {
	router := resultsRouter(&memoryStore{data: map[string]json.RawMessage{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(`{"cases":[1,2]}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var saved SaveResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Len(t, saved.Key, 8)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results/"+saved.Key, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"cases":[1,2]}`, rec.Body.String())
}

func TestResultsHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		store  *memoryStore
		method string
		path   string
		body   string
		want   int
	}{
		{"not found", &memoryStore{data: map[string]json.RawMessage{}}, http.MethodGet, "/results/missing1", "", http.StatusNotFound},
		{"invalid json", &memoryStore{data: map[string]json.RawMessage{}}, http.MethodPost, "/results", "{nope", http.StatusBadRequest},
		{"too large", &memoryStore{data: map[string]json.RawMessage{}}, http.MethodPost, "/results", `"` + strings.Repeat("x", 2048) + `"`, http.StatusRequestEntityTooLarge},
		{"store failure", &memoryStore{data: map[string]json.RawMessage{}, err: storage.ErrKeyExhausted}, http.MethodPost, "/results", `{}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			resultsRouter(tt.store).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
