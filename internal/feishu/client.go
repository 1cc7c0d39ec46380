// Package feishu reads remote documents from the Feishu (Lark) open platform
// and normalizes their block trees into content nodes.
package feishu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkdrive "github.com/larksuite/oapi-sdk-go/v3/service/drive/v1"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// DefaultBaseURL is the open platform host. Request paths carry the
// /open-apis prefix themselves.
var DefaultBaseURL = lark.FeishuBaseUrl

// StatusError is a non-success answer from the open platform: a non-zero
// application code, usually with the HTTP status it came with.
type StatusError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu code %d: %s (http %d)", e.Code, e.Msg, e.HTTPStatus)
	}
	return fmt.Sprintf("feishu http %d: %s", e.HTTPStatus, e.Msg)
}

func statusError(apiResp *larkcore.ApiResp, code int, msg string) *StatusError {
	e := &StatusError{Code: code, Msg: msg}
	if apiResp != nil {
		e.HTTPStatus = apiResp.StatusCode
	}
	return e
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	AppID      string
	AppSecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Retry      *RetryConfig
	Logger     *observability.Logger
}

// Client is an authenticated open platform client. Tenant tokens are
// exchanged and cached by the SDK.
type Client struct {
	sdk *lark.Client
	log *observability.Logger
}

// NewClient creates a new open platform client.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimSuffix(strings.TrimRight(opts.BaseURL, "/"), "/open-apis")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := opts.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}

	log := opts.Logger
	if log == nil {
		log = observability.Nop()
	}
	log = log.WithOperation("feishu")

	sdk := lark.NewClient(opts.AppID, opts.AppSecret,
		lark.WithOpenBaseUrl(baseURL),
		lark.WithHttpClient(&retryingDoer{client: httpClient, config: retry, log: log}),
		lark.WithLogger(sdkLogger{log: log}),
		lark.WithLogLevel(larkcore.LogLevelWarn),
	)

	return &Client{sdk: sdk, log: log}
}

// FetchAsset downloads the raw bytes of a media asset.
func (c *Client) FetchAsset(ctx context.Context, token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty asset token")
	}

	req := larkdrive.NewDownloadMediaReqBuilder().FileToken(token).Build()
	resp, err := c.sdk.Drive.V1.Media.Download(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("download asset %s: %w", token, err)
	}
	if !resp.Success() {
		return nil, statusError(resp.ApiResp, resp.Code, resp.Msg)
	}
	if resp.File == nil {
		return nil, fmt.Errorf("download asset %s: empty body", token)
	}

	data, err := io.ReadAll(resp.File)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", token, err)
	}
	return data, nil
}

// sdkLogger routes SDK diagnostics into the service logger.
type sdkLogger struct {
	log *observability.Logger
}

func (l sdkLogger) Debug(_ context.Context, args ...interface{}) {
	l.log.Debug().Msg(sprint(args))
}

func (l sdkLogger) Info(_ context.Context, args ...interface{}) {
	l.log.Info().Msg(sprint(args))
}

func (l sdkLogger) Warn(_ context.Context, args ...interface{}) {
	l.log.Warn().Msg(sprint(args))
}

func (l sdkLogger) Error(_ context.Context, args ...interface{}) {
	l.log.Error().Msg(sprint(args))
}

func sprint(args []interface{}) string {
	var buf bytes.Buffer
	for i, a := range args {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprint(&buf, a)
	}
	return buf.String()
}

var (
	_ domain.AssetFetcher = (*Client)(nil)
	_ larkcore.Logger     = sdkLogger{}
	_ larkcore.HttpClient = (*retryingDoer)(nil)
)
