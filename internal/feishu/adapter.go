package feishu

import (
	"context"
	"fmt"
	"sync"

	larkdocx "github.com/larksuite/oapi-sdk-go/v3/service/docx/v1"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 4

	// guards against a server that keeps answering has_more
	maxPages = 10_000
)

// ImageProcessor turns an asset token into an inline data URI.
type ImageProcessor interface {
	Process(ctx context.Context, token string) (string, error)
}

// ProgressFunc receives image download progress: done of total images
// settled, successful or not. Calls are serialized.
type ProgressFunc func(done, total int)

// Adapter converts a remote document into content nodes.
type Adapter struct {
	client      *Client
	images      ImageProcessor
	pageSize    int
	concurrency int
	progress    ProgressFunc
	log         *observability.Logger
}

// AdapterConfig holds adapter tuning knobs.
type AdapterConfig struct {
	PageSize         int
	ImageConcurrency int
}

// NewAdapter creates a document adapter. images may be nil, in which case
// image blocks are skipped.
func NewAdapter(client *Client, images ImageProcessor, cfg AdapterConfig, log *observability.Logger) *Adapter {
	if cfg.PageSize <= 0 || cfg.PageSize > defaultPageSize {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = defaultConcurrency
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Adapter{
		client:      client,
		images:      images,
		pageSize:    cfg.PageSize,
		concurrency: cfg.ImageConcurrency,
		log:         log.WithOperation("feishu_adapter"),
	}
}

// WithProgress returns a copy of the adapter that reports image download
// progress to fn.
func (a *Adapter) WithProgress(fn ProgressFunc) *Adapter {
	cp := *a
	cp.progress = fn
	return &cp
}

// ListBlocks pages through every block of a document.
func (a *Adapter) ListBlocks(ctx context.Context, docID string) ([]*larkdocx.Block, error) {
	var blocks []*larkdocx.Block
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		builder := larkdocx.NewListDocumentBlockReqBuilder().
			DocumentId(docID).
			PageSize(a.pageSize)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := a.client.sdk.Docx.V1.DocumentBlock.List(ctx, builder.Build())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, domain.DocumentFetchError(docID, "list blocks", err)
		}
		if !resp.Success() {
			return nil, domain.DocumentFetchError(docID, "list blocks", statusError(resp.ApiResp, resp.Code, resp.Msg))
		}
		if resp.Data == nil {
			return blocks, nil
		}
		blocks = append(blocks, resp.Data.Items...)

		if !value(resp.Data.HasMore) {
			return blocks, nil
		}
		next := value(resp.Data.PageToken)
		if next == "" || next == pageToken {
			return nil, domain.DocumentFetchError(docID, "pagination cursor did not advance", nil)
		}
		pageToken = next
	}

	return nil, domain.DocumentFetchError(docID, fmt.Sprintf("more than %d pages", maxPages), nil)
}

// Parse resolves locator, reads every block and returns the normalized document.
func (a *Adapter) Parse(ctx context.Context, locator string) (*domain.Document, error) {
	loc := ParseLocator(locator)
	if loc.Token == "" {
		return nil, domain.DocumentFetchError(locator, "empty document locator", nil)
	}

	doc := &domain.Document{Source: locator}

	docID, warning := a.client.ResolveDocumentID(ctx, loc)
	if warning != "" {
		doc.Warnings = append(doc.Warnings, warning)
	}

	blocks, err := a.ListBlocks(ctx, docID)
	if err != nil {
		return nil, err
	}
	a.log.Info().Str("doc_id", docID).Int("blocks", len(blocks)).Msg("blocks fetched")

	steps := interpretAll(blocks)

	images, warnings, err := a.fetchImages(ctx, steps)
	if err != nil {
		return nil, err
	}
	doc.Warnings = append(doc.Warnings, warnings...)

	for i, s := range steps {
		switch s.kind {
		case stepText:
			doc.Nodes = append(doc.Nodes, domain.TextNode(s.text))
		case stepImage:
			if images[i] != "" {
				doc.Nodes = append(doc.Nodes, domain.ImageNode(images[i], s.token))
			}
		}
	}

	return doc, nil
}

// fetchImages processes every image step concurrently, bounded by the
// adapter's concurrency. Results are indexed like steps. Individual failures
// become warnings; only cancellation fails the call.
func (a *Adapter) fetchImages(ctx context.Context, steps []step) ([]string, []string, error) {
	results := make([]string, len(steps))
	failures := make([]error, len(steps))

	if a.images == nil {
		return results, nil, nil
	}

	total := 0
	for _, s := range steps {
		if s.kind == stepImage {
			total++
		}
	}

	var mu sync.Mutex
	done := 0
	settle := func() {
		if a.progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		a.progress(done, total)
	}
	if a.progress != nil && total > 0 {
		a.progress(0, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, s := range steps {
		if s.kind != stepImage {
			continue
		}
		g.Go(func() error {
			uri, err := a.images.Process(gctx, s.token)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = domain.AssetFetchError(s.token, err)
				settle()
				return nil
			}
			results[i] = uri
			settle()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var warnings []string
	for _, err := range failures {
		if err != nil {
			a.log.Warn().Err(err).Msg("image dropped")
			warnings = append(warnings, err.Error())
		}
	}
	return results, warnings, nil
}

// Source adapts one remote document locator to domain.DocumentSource.
type Source struct {
	adapter *Adapter
	locator string
}

// NewSource binds a locator to the adapter.
func (a *Adapter) NewSource(locator string) *Source {
	return &Source{adapter: a, locator: locator}
}

func (s *Source) Load(ctx context.Context) (*domain.Document, error) {
	return s.adapter.Parse(ctx, s.locator)
}

func (s *Source) Describe() string {
	return "feishu document " + s.locator
}

var _ domain.DocumentSource = (*Source)(nil)
