// Package assemble merges content nodes into the multimodal model payload.
package assemble

import (
	"fmt"

	"github.com/spherical/prd-testgen/internal/domain"
)

// Assembler builds a ContentPayload from a document's nodes.
type Assembler struct {
	preamble string
}

// New creates an assembler. A non-empty preamble becomes the first text part.
func New(preamble string) *Assembler {
	return &Assembler{preamble: preamble}
}

// ReferenceMarker is the text part placed before the n-th inline image.
func ReferenceMarker(n int) string {
	return fmt.Sprintf("\n[Reference Image %d]\n", n)
}

// Build converts nodes to parts in order. Each image is preceded by its
// reference marker and registered in the index under its 1-based ordinal.
func (a *Assembler) Build(nodes []domain.ContentNode) *domain.ContentPayload {
	payload := &domain.ContentPayload{
		Parts:      make([]domain.Part, 0, len(nodes)+1),
		ImageIndex: make(map[int]string),
	}

	if a.preamble != "" {
		payload.Parts = append(payload.Parts, domain.Part{Kind: domain.PartText, Text: a.preamble})
	}

	ordinal := 0
	for _, node := range nodes {
		switch node.Kind {
		case domain.NodeText:
			payload.Parts = append(payload.Parts, domain.Part{Kind: domain.PartText, Text: node.Content})
		case domain.NodeImage:
			if node.InlineData == "" {
				continue
			}
			ordinal++
			payload.ImageIndex[ordinal] = node.InlineData
			payload.Parts = append(payload.Parts,
				domain.Part{Kind: domain.PartText, Text: ReferenceMarker(ordinal)},
				domain.Part{Kind: domain.PartImage, ImageURL: node.InlineData},
			)
		}
	}

	return payload
}
