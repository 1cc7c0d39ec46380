package fileparse

import (
	"fmt"

	"github.com/spherical/prd-testgen/internal/domain"
)

const defaultMaxBytes = 32 << 20

// Validator provides input validation for uploads
type Validator struct {
	maxBytes int64
}

// NewValidator creates a new validator instance
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Validator{maxBytes: maxBytes}
}

// MaxBytes returns the accepted upload size ceiling.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate rejects empty and oversized uploads.
func (v *Validator) Validate(u Upload) error {
	if len(u.Data) == 0 {
		return domain.ValidationError(fmt.Sprintf("uploaded file %q is empty", u.Filename), nil).
			WithStage(domain.StageParse)
	}

	if int64(len(u.Data)) > v.maxBytes {
		return domain.ValidationError(
			fmt.Sprintf("uploaded file %q is %d bytes, limit is %d", u.Filename, len(u.Data), v.maxBytes), nil).
			WithStage(domain.StageParse)
	}

	return nil
}
