package pipeline

import (
	"context"
	"strings"

	"github.com/spherical/prd-testgen/internal/domain"
)

// TextSource serves PRD text supplied directly by the caller.
type TextSource struct {
	Name    string
	Content string
}

func (s TextSource) Load(ctx context.Context) (*domain.Document, error) {
	if strings.TrimSpace(s.Content) == "" {
		return nil, domain.ValidationError("document content is empty", nil).WithStage(domain.StageParse)
	}
	return &domain.Document{Source: s.Describe(), Nodes: []domain.ContentNode{domain.TextNode(s.Content)}}, nil
}

func (s TextSource) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	return "inline text"
}

var _ domain.DocumentSource = TextSource{}
