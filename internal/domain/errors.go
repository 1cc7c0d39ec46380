package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeAPI             ErrorType = "api"
	ErrorTypeIO              ErrorType = "io"
	ErrorTypeDocumentFetch   ErrorType = "document_fetch"
	ErrorTypeAssetFetch      ErrorType = "asset_fetch"
	ErrorTypeUnsupportedFile ErrorType = "unsupported_file_type"
	ErrorTypeStructuralParse ErrorType = "structural_parse"
	ErrorTypePlanContract    ErrorType = "plan_contract"
)

// Stage identifies where in a request an error was raised.
type Stage string

const (
	StageParse    Stage = "parse"
	StageAssemble Stage = "assemble"
	StagePlan     Stage = "plan"
	StageGenerate Stage = "generate"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Stage   Stage
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// WithStage returns a copy of e tagged with stage.
func (e *DomainError) WithStage(stage Stage) *DomainError {
	cp := *e
	cp.Stage = stage
	return &cp
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// DocumentFetchError aborts normalization of the remote document docID.
func DocumentFetchError(docID, message string, err error) *DomainError {
	e := NewError(ErrorTypeDocumentFetch, fmt.Sprintf("document %s: %s", docID, message), err)
	e.Stage = StageParse
	return e
}

// AssetFetchError is non-fatal: the asset is dropped and parsing continues.
func AssetFetchError(token string, err error) *DomainError {
	e := NewError(ErrorTypeAssetFetch, fmt.Sprintf("asset %s unavailable", token), err)
	e.Stage = StageParse
	return e
}

func UnsupportedFileType(contentType, filename string, err error) *DomainError {
	e := NewError(ErrorTypeUnsupportedFile,
		fmt.Sprintf("unsupported or unrecognized file type: %s (%s)", contentType, filename), err)
	e.Stage = StageParse
	return e
}

func StructuralParseError(stage Stage, message string, err error) *DomainError {
	e := NewError(ErrorTypeStructuralParse, message, err)
	e.Stage = stage
	return e
}

func PlanContractViolation(stage Stage, message string) *DomainError {
	e := NewError(ErrorTypePlanContract, message, nil)
	e.Stage = stage
	return e
}

// IsType reports whether err wraps a DomainError of type t.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Type == t
}

// StageOf returns the stage recorded on the first DomainError in err's chain.
func StageOf(err error) Stage {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}
