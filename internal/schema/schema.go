// Package schema holds the JSON Schemas the model output must satisfy. Each
// schema is defined once and used both to describe the format in prompts
// and to validate what comes back.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// A fence opens at the start of a line with an optional language tag and
// closes at the end of a line. Backticks elsewhere are content.
var fencePattern = regexp.MustCompile("(?sm)^[ \t]*```(?:[A-Za-z0-9_+.-]*(?:[ \t]*\r?\n|[ \t]+))?(.*)```[ \t\r]*$")

// StripFencing unwraps a fenced code block if present and returns s
// unchanged otherwise. Whitespace between the fences and the body is dropped.
func StripFencing(s string) string {
	m := fencePattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return strings.TrimSpace(m[1])
}

// Contract pairs a schema with its resolved validator.
type Contract struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewContract resolves s for validation.
func NewContract(name string, s *jsonschema.Schema) (*Contract, error) {
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s schema: %w", name, err)
	}
	return &Contract{name: name, schema: s, resolved: resolved}, nil
}

// Name identifies the contract in error messages.
func (c *Contract) Name() string {
	return c.name
}

// FormatInstructions renders the schema for inclusion in a prompt.
func (c *Contract) FormatInstructions() string {
	raw, err := json.MarshalIndent(c.schema, "", "  ")
	if err != nil {
		// schemas are built in code and always marshal
		panic(fmt.Sprintf("marshal %s schema: %v", c.name, err))
	}
	return "Respond with a single JSON object that conforms to the following JSON Schema. " +
		"Output the JSON only.\n" + string(raw)
}

// Decode strips fencing from raw, validates it and unmarshals into out.
func (c *Contract) Decode(raw string, out any) error {
	body := StripFencing(raw)

	var instance any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return fmt.Errorf("%s output is not valid JSON: %w", c.name, err)
	}
	if err := c.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%s output does not match schema: %w", c.name, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%s output: %w", c.name, err)
	}
	return nil
}

func stringArray(description string, minItems int) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:        "array",
		Description: description,
		Items:       &jsonschema.Schema{Type: "string"},
	}
	if minItems > 0 {
		s.MinItems = jsonschema.Ptr(minItems)
	}
	return s
}

func nonEmptyString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description, MinLength: jsonschema.Ptr(1)}
}

// PlanSchema describes the Plan stage result. Every module must plan at
// least minPrimary stream A scenarios.
func PlanSchema(minPrimary int) *jsonschema.Schema {
	module := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"module_name":                nonEmptyString("Functional module name; must appear in detected_modules"),
			"identified_inputs":          stringArray("Inputs the user can provide in this module", 0),
			"business_constraints":       stringArray("Validation rules, limits, state transitions and copy", 0),
			"planned_stream_a_scenarios": stringArray("Stream A: core business logic scenario titles", minPrimary),
			"planned_stream_b_scenarios": stringArray("Stream B: input boundary and invalid input scenario titles", 0),
			"planned_stream_c_scenarios": stringArray("Stream C: cross-module flow scenario titles", 0),
		},
		Required: []string{"module_name", "identified_inputs", "business_constraints", "planned_stream_a_scenarios"},
		PropertyOrder: []string{"module_name", "identified_inputs", "business_constraints",
			"planned_stream_a_scenarios", "planned_stream_b_scenarios", "planned_stream_c_scenarios"},
	}

	return &jsonschema.Schema{
		Title: "TestPlanResult",
		Type:  "object",
		Properties: map[string]*jsonschema.Schema{
			"detected_modules": stringArray("Names of every functional module found in the document", 1),
			"analysis_and_plan": {
				Type:        "array",
				Description: "Exactly one entry per detected module",
				Items:       module,
			},
		},
		Required:      []string{"detected_modules", "analysis_and_plan"},
		PropertyOrder: []string{"detected_modules", "analysis_and_plan"},
	}
}

// CasesSchema describes the Generate stage result.
func CasesSchema() *jsonschema.Schema {
	testCase := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"module_name": nonEmptyString("A module_name from the approved plan"),
			"title":       nonEmptyString("The planned scenario title this case implements"),
			"type": {
				Type:        "string",
				Description: "Stream that planned the scenario",
				Enum:        []any{"A", "B", "C"},
			},
			"pre_condition": {Type: "string"},
			"visual_evidence": {
				Type:        "string",
				Description: `"none", or the cited image, e.g. "[Reference Image 2 - UI]: button disabled"`,
			},
			"steps":           stringArray("Atomic actions, one per entry", 1),
			"expected_result": {Type: "string"},
		},
		Required: []string{"module_name", "title", "type", "pre_condition", "visual_evidence", "steps", "expected_result"},
		PropertyOrder: []string{"module_name", "title", "type", "pre_condition", "visual_evidence",
			"steps", "expected_result"},
	}

	return &jsonschema.Schema{
		Title: "TestCaseGenerationResult",
		Type:  "object",
		Properties: map[string]*jsonschema.Schema{
			"cases": {Type: "array", Items: testCase},
		},
		Required: []string{"cases"},
	}
}

// Contracts bundles the two stage contracts.
type Contracts struct {
	Plan  *Contract
	Cases *Contract
}

// NewContracts builds both stage contracts.
func NewContracts(minPrimary int) (*Contracts, error) {
	plan, err := NewContract("plan", PlanSchema(minPrimary))
	if err != nil {
		return nil, err
	}
	cases, err := NewContract("cases", CasesSchema())
	if err != nil {
		return nil, err
	}
	return &Contracts{Plan: plan, Cases: cases}, nil
}
