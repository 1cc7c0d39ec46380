package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/prd-testgen/internal/domain"
)

const (
	tokenPath  = "/open-apis/auth/v3/tenant_access_token/internal"
	wikiPath   = "/open-apis/wiki/v2/spaces/get_node"
	blocksPath = "/open-apis/docx/v1/documents/"
	mediaPath  = "/open-apis/drive/v1/medias/"
)

type blockPage struct {
	Items     []rawBlock `json:"items"`
	HasMore   bool       `json:"has_more"`
	PageToken string     `json:"page_token,omitempty"`
}

// fakeFeishu serves the subset of the open platform the adapter calls.
type fakeFeishu struct {
	mu sync.Mutex

	appIDs    []string
	authHdrs  []string
	docIDs    []string
	pages     map[string]blockPage // keyed by page_token
	listCode  int
	pageSizes []string
	wikiNodes map[string]string
	wikiCode  int
	media     map[string][]byte
	flakyLeft int // number of 503s to serve on the blocks endpoint
}

func newFakeFeishu() *fakeFeishu {
	return &fakeFeishu{
		pages:     map[string]blockPage{},
		wikiNodes: map[string]string{},
		media:     map[string][]byte{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeFeishu) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == tokenPath {
		var creds struct {
			AppID string `json:"app_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&creds)
		f.appIDs = append(f.appIDs, creds.AppID)
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "msg": "ok", "tenant_access_token": "t-" + creds.AppID, "expire": 7200})
		return
	}

	auth := r.Header.Get("Authorization")
	f.authHdrs = append(f.authHdrs, auth)
	if !strings.HasPrefix(auth, "Bearer t-") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 99991661, "msg": "missing access token"})
		return
	}

	switch {
	case r.URL.Path == wikiPath:
		if f.wikiCode != 0 {
			writeJSON(w, http.StatusOK, map[string]any{"code": f.wikiCode, "msg": "no permission"})
			return
		}
		obj := f.wikiNodes[r.URL.Query().Get("token")]
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{"node": map[string]any{"obj_token": obj, "obj_type": "docx"}}})

	case strings.HasPrefix(r.URL.Path, blocksPath):
		f.docIDs = append(f.docIDs, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, blocksPath), "/blocks"))
		f.pageSizes = append(f.pageSizes, r.URL.Query().Get("page_size"))
		if f.flakyLeft > 0 {
			f.flakyLeft--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if f.listCode != 0 {
			writeJSON(w, http.StatusOK, map[string]any{"code": f.listCode, "msg": "forbidden"})
			return
		}
		page := f.pages[r.URL.Query().Get("page_token")]
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "msg": "success", "data": page})

	case strings.HasPrefix(r.URL.Path, mediaPath):
		token := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, mediaPath), "/download")
		data, ok := f.media[token]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 1061004, "msg": "file not found"})
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "msg": "no route"})
	}
}

func (f *fakeFeishu) stats() (pageSizes []string, docIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pageSizes...), append([]string(nil), f.docIDs...)
}

func testRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

// newTestClient points a client at fake. Each test gets its own app id so
// cached tenant tokens never leak between tests.
func newTestClient(t *testing.T, fake *fakeFeishu) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, AppID: "cli_" + t.Name(), AppSecret: "secret", Retry: testRetry()})
}

// stubImages returns "data:<token>" for known tokens and fails otherwise.
type stubImages struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (s *stubImages) Process(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, token)
	s.mu.Unlock()
	if s.fail[token] {
		return "", errors.New("decode failed")
	}
	return "data:image/jpeg;base64," + token, nil
}

func TestAdapter_Parse_HeadingTextImage(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{
		{"block_id": "root", "block_type": 1},
		textBlock(3, "heading1", runs("Login")),
		textBlock(2, "text", runs("Users sign in with phone number.")),
		imageBlock("imgA"),
	}}

	adapter := NewAdapter(newTestClient(t, fake), &stubImages{}, AdapterConfig{}, nil)
	doc, err := adapter.Parse(context.Background(), "https://acme.feishu.cn/docx/doxcnCanonical?from=share")
	require.NoError(t, err)

	want := []domain.ContentNode{
		domain.TextNode("# Login"),
		domain.TextNode("Users sign in with phone number."),
		domain.ImageNode("data:image/jpeg;base64,imgA", "imgA"),
	}
	if diff := cmp.Diff(want, doc.Nodes); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, doc.Warnings)
	pageSizes, docIDs := fake.stats()
	assert.Equal(t, []string{"500"}, pageSizes)
	assert.Equal(t, []string{"doxcnCanonical"}, docIDs)
}

func TestAdapter_Parse_TableOnly(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{
		{"block_type": 1},
		{"block_type": BlockTypeTable},
	}}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	doc, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, domain.TextNode("\n[table content]\n"), doc.Nodes[0])
}

func TestAdapter_Parse_Pagination(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(13, "ordered", runs("one"))}, HasMore: true, PageToken: "p2"}
	fake.pages["p2"] = blockPage{Items: []rawBlock{textBlock(13, "ordered", runs("two"))}, HasMore: true, PageToken: "p3"}
	fake.pages["p3"] = blockPage{Items: []rawBlock{textBlock(13, "ordered", runs("three"))}}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{PageSize: 2}, nil)
	doc, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)

	assert.Equal(t, []domain.ContentNode{
		domain.TextNode("1. one"),
		domain.TextNode("2. two"),
		domain.TextNode("3. three"),
	}, doc.Nodes)
	pageSizes, _ := fake.stats()
	assert.Equal(t, []string{"2", "2", "2"}, pageSizes)
}

func TestAdapter_Parse_StalledCursor(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{HasMore: true}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	_, err := adapter.Parse(context.Background(), "doc1")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeDocumentFetch))
}

func TestAdapter_Parse_NonZeroCode(t *testing.T) {
	fake := newFakeFeishu()
	fake.listCode = 1770032

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	_, err := adapter.Parse(context.Background(), "doxcnSecret")
	require.Error(t, err)

	assert.True(t, domain.IsType(err, domain.ErrorTypeDocumentFetch))
	assert.Equal(t, domain.StageParse, domain.StageOf(err))
	assert.Contains(t, err.Error(), "doxcnSecret")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 1770032, statusErr.Code)
	assert.Equal(t, http.StatusOK, statusErr.HTTPStatus)
}

func TestAdapter_Parse_FailedImageIsDropped(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{
		imageBlock("good1"),
		imageBlock("broken"),
		textBlock(2, "text", runs("after")),
		imageBlock("good2"),
	}}

	images := &stubImages{fail: map[string]bool{"broken": true}}
	adapter := NewAdapter(newTestClient(t, fake), images, AdapterConfig{ImageConcurrency: 2}, nil)
	doc, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)

	assert.Equal(t, []domain.ContentNode{
		domain.ImageNode("data:image/jpeg;base64,good1", "good1"),
		domain.TextNode("after"),
		domain.ImageNode("data:image/jpeg;base64,good2", "good2"),
	}, doc.Nodes)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "broken")
	assert.ElementsMatch(t, []string{"good1", "broken", "good2"}, images.calls)
}

func TestAdapter_WithProgress_ReportsEveryImage(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{
		imageBlock("a"),
		textBlock(2, "text", runs("between")),
		imageBlock("broken"),
		imageBlock("c"),
	}}

	var (
		mu    sync.Mutex
		calls [][2]int
	)
	record := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{done, total})
	}

	base := NewAdapter(newTestClient(t, fake), &stubImages{fail: map[string]bool{"broken": true}},
		AdapterConfig{ImageConcurrency: 3}, nil)
	_, err := base.WithProgress(record).Parse(context.Background(), "doc1")
	require.NoError(t, err)

	// failures count as settled; done is monotonic under serialized calls
	assert.Equal(t, [][2]int{{0, 3}, {1, 3}, {2, 3}, {3, 3}}, calls)

	// the original adapter stays silent
	calls = nil
	_, err = base.Parse(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestAdapter_WithProgress_NoImages(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(2, "text", runs("only text"))}}

	called := false
	adapter := NewAdapter(newTestClient(t, fake), &stubImages{}, AdapterConfig{}, nil).
		WithProgress(func(done, total int) { called = true })
	_, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestAdapter_Parse_CancelledContext(t *testing.T) {
	fake := newFakeFeishu()
	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.Parse(ctx, "doc1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_Parse_WikiResolution(t *testing.T) {
	fake := newFakeFeishu()
	fake.wikiNodes["wikcnNode"] = "doxcnReal"
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(2, "text", runs("body"))}}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	doc, err := adapter.Parse(context.Background(), "https://acme.feishu.cn/wiki/wikcnNode?from=share")
	require.NoError(t, err)
	assert.Empty(t, doc.Warnings)
	_, docIDs := fake.stats()
	assert.Equal(t, []string{"doxcnReal"}, docIDs)

	fake.mu.Lock()
	fake.wikiCode = 131006
	fake.mu.Unlock()

	doc, err = adapter.Parse(context.Background(), "https://acme.feishu.cn/wiki/wikcnNode")
	require.NoError(t, err)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "wikcnNode")
	assert.Contains(t, doc.Warnings[0], "131006")
	_, docIDs = fake.stats()
	assert.Equal(t, []string{"doxcnReal", "wikcnNode"}, docIDs)
}

func TestClient_ExchangesAppCredentials(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(2, "text", runs("ok"))}}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	doc, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.appIDs)
	assert.Equal(t, "cli_"+t.Name(), fake.appIDs[0])
	assert.Equal(t, []string{"Bearer t-cli_" + t.Name()}, fake.authHdrs)
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	fake := newFakeFeishu()
	fake.flakyLeft = 2
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(2, "text", runs("eventually"))}}

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	doc, err := adapter.Parse(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ContentNode{domain.TextNode("eventually")}, doc.Nodes)
	pageSizes, _ := fake.stats()
	assert.Len(t, pageSizes, 3)
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	fake := newFakeFeishu()
	fake.flakyLeft = 10

	adapter := NewAdapter(newTestClient(t, fake), nil, AdapterConfig{}, nil)
	_, err := adapter.Parse(context.Background(), "doc1")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeDocumentFetch))
	pageSizes, _ := fake.stats()
	assert.Len(t, pageSizes, 3)
}

func TestClient_FetchAsset(t *testing.T) {
	fake := newFakeFeishu()
	fake.media["boxcnImg"] = []byte{0x89, 'P', 'N', 'G'}

	client := newTestClient(t, fake)
	data, err := client.FetchAsset(context.Background(), "boxcnImg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = client.FetchAsset(context.Background(), "missing")
	require.Error(t, err)

	_, err = client.FetchAsset(context.Background(), "")
	require.Error(t, err)
}

func TestNewClient_AcceptsOpenAPIsSuffix(t *testing.T) {
	fake := newFakeFeishu()
	fake.pages[""] = blockPage{Items: []rawBlock{textBlock(2, "text", runs("ok"))}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL + "/open-apis/", AppID: "cli_" + t.Name(), Retry: testRetry()})
	doc, err := NewAdapter(client, nil, AdapterConfig{}, nil).Parse(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)
}

func TestSource_Describe(t *testing.T) {
	adapter := NewAdapter(NewClient(Options{}), nil, AdapterConfig{}, nil)
	src := adapter.NewSource("https://acme.feishu.cn/docx/abc")
	assert.Equal(t, "feishu document https://acme.feishu.cn/docx/abc", src.Describe())
}
