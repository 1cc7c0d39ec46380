package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// NodeKind discriminates the ContentNode variants.
type NodeKind string

const (
	NodeText  NodeKind = "text"
	NodeImage NodeKind = "image"
)

// ContentNode is one unit of normalized document content, either a text
// fragment or an inline image. Sequence order mirrors reading order.
type ContentNode struct {
	Kind        NodeKind `json:"type"`
	Content     string   `json:"content,omitempty"`
	InlineData  string   `json:"inline_data,omitempty"` // data URI
	SourceToken string   `json:"token,omitempty"`
}

// TextNode builds a Text variant.
func TextNode(content string) ContentNode {
	return ContentNode{Kind: NodeText, Content: content}
}

// ImageNode builds an Image variant.
func ImageNode(dataURI, token string) ContentNode {
	return ContentNode{Kind: NodeImage, InlineData: dataURI, SourceToken: token}
}

// Document is the normalized output of an input adapter.
type Document struct {
	Source   string        `json:"source"`
	Nodes    []ContentNode `json:"nodes"`
	Warnings []string      `json:"warnings,omitempty"`
}

// PartKind discriminates multimodal payload parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image_url"
)

// Part is a single multimodal fragment handed to the model.
type Part struct {
	Kind     PartKind `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ContentPayload is the assembled model input for one request.
type ContentPayload struct {
	Parts      []Part
	ImageIndex map[int]string // 1-based ordinal -> data URI
}

// ImageCount returns the number of inline images.
func (p *ContentPayload) ImageCount() int {
	return len(p.ImageIndex)
}

// IndexByOrdinal renders ImageIndex with string keys for the wire.
func (p *ContentPayload) IndexByOrdinal() map[string]string {
	out := make(map[string]string, len(p.ImageIndex))
	for ordinal, uri := range p.ImageIndex {
		out[strconv.Itoa(ordinal)] = uri
	}
	return out
}

// ScenarioStream names a category of planned scenarios within a module.
type ScenarioStream string

const (
	StreamA ScenarioStream = "A" // core business logic
	StreamB ScenarioStream = "B" // input boundaries
	StreamC ScenarioStream = "C" // cross-module flows

	PrimaryStream = StreamA
)

// ModulePlan is the Plan stage output for one functional module.
type ModulePlan struct {
	ModuleName          string   `json:"module_name"`
	IdentifiedInputs    []string `json:"identified_inputs"`
	BusinessConstraints []string `json:"business_constraints"`
	PlannedStreamA      []string `json:"planned_stream_a_scenarios"`
	PlannedStreamB      []string `json:"planned_stream_b_scenarios,omitempty"`
	PlannedStreamC      []string `json:"planned_stream_c_scenarios,omitempty"`
}

// Scenarios returns the planned titles for a stream.
func (m ModulePlan) Scenarios(s ScenarioStream) []string {
	switch s {
	case StreamA:
		return m.PlannedStreamA
	case StreamB:
		return m.PlannedStreamB
	case StreamC:
		return m.PlannedStreamC
	}
	return nil
}

// TestPlanResult is the validated Plan stage result.
type TestPlanResult struct {
	DetectedModules []string     `json:"detected_modules"`
	AnalysisAndPlan []ModulePlan `json:"analysis_and_plan"`
}

// TestCase is a single concrete case written by the Generate stage.
type TestCase struct {
	ModuleName     string         `json:"module_name"`
	Title          string         `json:"title"`
	Type           ScenarioStream `json:"type"`
	PreCondition   string         `json:"pre_condition"`
	VisualEvidence string         `json:"visual_evidence"`
	Steps          []string       `json:"steps"`
	ExpectedResult string         `json:"expected_result"`
}

// TestCaseGenerationResult is the validated Generate stage result.
type TestCaseGenerationResult struct {
	Cases []TestCase `json:"cases"`
}

// EventType represents the type of stream event
type EventType string

const (
	EventLog      EventType = "log"
	EventImages   EventType = "images"
	EventAnalysis EventType = "analysis"
	EventCases    EventType = "cases"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// IsTerminal reports whether the event type closes a stream.
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SavedResult is a persisted JSON document addressed by a short key.
type SavedResult struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
