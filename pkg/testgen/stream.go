package testgen

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Event types carried on the stream.
const (
	EventLog      = "log"
	EventImages   = "images"
	EventAnalysis = "analysis"
	EventCases    = "cases"
	EventDone     = "done"
	EventError    = "error"
)

// DefaultMaxEventBytes bounds a single event line unless the client is
// configured otherwise. Images events embed every processed image as a data
// URI, so a document with many large images can exceed it.
const DefaultMaxEventBytes = 64 << 20

// Event is one line of the generation stream.
type Event struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Images decodes the data of an images event.
func (e Event) Images() (map[string]string, error) {
	var index map[string]string
	if err := e.decode(EventImages, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// Plan decodes the data of an analysis event.
func (e Event) Plan() (*Plan, error) {
	var plan Plan
	if err := e.decode(EventAnalysis, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Cases decodes the data of a cases event.
func (e Event) Cases() ([]TestCase, error) {
	var cases []TestCase
	if err := e.decode(EventCases, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (e Event) decode(want string, out any) error {
	if e.Type != want {
		return fmt.Errorf("event is %q, not %q", e.Type, want)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", want, err)
	}
	return nil
}

// Plan is the analysis event payload.
type Plan struct {
	DetectedModules []string     `json:"detected_modules"`
	AnalysisAndPlan []ModulePlan `json:"analysis_and_plan"`
}

// ModulePlan is the plan for one detected module.
type ModulePlan struct {
	ModuleName          string   `json:"module_name"`
	IdentifiedInputs    []string `json:"identified_inputs"`
	BusinessConstraints []string `json:"business_constraints"`
	PlannedStreamA      []string `json:"planned_stream_a_scenarios"`
	PlannedStreamB      []string `json:"planned_stream_b_scenarios,omitempty"`
	PlannedStreamC      []string `json:"planned_stream_c_scenarios,omitempty"`
}

// TestCase is one generated test case.
type TestCase struct {
	ModuleName     string   `json:"module_name"`
	Title          string   `json:"title"`
	Type           string   `json:"type"`
	PreCondition   string   `json:"pre_condition"`
	VisualEvidence string   `json:"visual_evidence"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
}

// StreamParser reads newline-delimited events.
type StreamParser struct {
	scanner *bufio.Scanner
	max     int
}

// NewStreamParser creates a parser over r accepting events up to
// DefaultMaxEventBytes.
func NewStreamParser(r io.Reader) *StreamParser {
	return NewStreamParserSize(r, DefaultMaxEventBytes)
}

// NewStreamParserSize creates a parser over r accepting events up to
// maxEventBytes. Non-positive values select DefaultMaxEventBytes.
func NewStreamParserSize(r io.Reader, maxEventBytes int) *StreamParser {
	if maxEventBytes <= 0 {
		maxEventBytes = DefaultMaxEventBytes
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxEventBytes)), maxEventBytes)
	return &StreamParser{scanner: scanner, max: maxEventBytes}
}

// Next returns the next event, or io.EOF when the stream ends.
func (p *StreamParser) Next() (*Event, error) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return &ev, nil
	}

	if err := p.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("event larger than %d bytes: %w", p.max, err)
		}
		return nil, err
	}
	return nil, io.EOF
}
