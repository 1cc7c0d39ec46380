// Package fileparse extracts plain text from uploaded PDF, Word and text files.
package fileparse

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// Declared content types with dedicated extractors.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	mimeOctetStream = "application/octet-stream"
)

// Upload is a file received from a caller.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Parser dispatches uploads to a text extractor by declared content type.
type Parser struct {
	validator *Validator
	log       *observability.Logger
}

// NewParser creates a parser accepting uploads up to maxBytes.
func NewParser(maxBytes int64, log *observability.Logger) *Parser {
	if log == nil {
		log = observability.Nop()
	}
	return &Parser{
		validator: NewValidator(maxBytes),
		log:       log.WithOperation("file_parser"),
	}
}

// Validate checks an upload before any extraction work is done.
func (p *Parser) Validate(u Upload) error {
	return p.validator.Validate(u)
}

// MaxBytes is the largest accepted upload.
func (p *Parser) MaxBytes() int64 {
	return p.validator.MaxBytes()
}

// Parse returns the upload as a single-text-node document.
func (p *Parser) Parse(ctx context.Context, u Upload) (*domain.Document, error) {
	text, err := p.ExtractText(ctx, u)
	if err != nil {
		return nil, err
	}
	return &domain.Document{
		Source: u.Filename,
		Nodes:  []domain.ContentNode{domain.TextNode(text)},
	}, nil
}

// ExtractText returns the plain text of an upload.
func (p *Parser) ExtractText(ctx context.Context, u Upload) (string, error) {
	if err := p.validator.Validate(u); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	kind := resolveType(u.ContentType, u.Filename)
	p.log.Debug().
		Str("filename", u.Filename).
		Str("declared_type", u.ContentType).
		Str("resolved_type", kind).
		Int("bytes", len(u.Data)).
		Msg("extracting upload")

	switch kind {
	case MimePDF:
		text, err := extractPDF(ctx, u.Data)
		if err != nil {
			return "", extractError("PDF", u.Filename, err)
		}
		return text, nil
	case MimeDOCX:
		text, err := extractDOCX(u.Data)
		if err != nil {
			return "", extractError("Word", u.Filename, err)
		}
		return text, nil
	default:
		if !utf8.Valid(u.Data) {
			return "", domain.UnsupportedFileType(u.ContentType, u.Filename, nil)
		}
		return string(u.Data), nil
	}
}

// resolveType strips parameters from the declared type and falls back to the
// filename extension when the declaration carries no information.
func resolveType(declared, filename string) string {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = parsed
	}

	if mediaType != "" && mediaType != mimeOctetStream {
		return mediaType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	}
	return mediaType
}

func extractError(kind, filename string, err error) *domain.DomainError {
	return domain.IOError(fmt.Sprintf("failed to parse %s file %s", kind, filename), err).
		WithStage(domain.StageParse)
}

// Source adapts one upload to domain.DocumentSource.
type Source struct {
	parser *Parser
	upload Upload
}

// NewSource binds an upload to the parser.
func (p *Parser) NewSource(u Upload) *Source {
	return &Source{parser: p, upload: u}
}

func (s *Source) Load(ctx context.Context) (*domain.Document, error) {
	return s.parser.Parse(ctx, s.upload)
}

func (s *Source) Describe() string {
	return "uploaded file " + s.upload.Filename
}

var _ domain.DocumentSource = (*Source)(nil)
