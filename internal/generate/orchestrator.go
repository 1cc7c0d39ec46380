// Package generate runs the two-stage Plan → Generate conversation with the
// model and enforces the structured output contract between them.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/schema"
)

// Model is the completion backend the orchestrator drives.
type Model interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// Config holds the stage directives and contract knobs.
type Config struct {
	PlanDirective       string
	GenerateDirective   string
	RepairAttempts      int
	MinPrimaryScenarios int
}

// Hooks observe stage progress. Nil hooks are skipped.
type Hooks struct {
	StageStarted func(stage domain.Stage)
	Planned      func(plan *domain.TestPlanResult)
}

// Outcome is the result of a full run.
type Outcome struct {
	State State
	Plan  *domain.TestPlanResult
	Cases *domain.TestCaseGenerationResult
}

// Orchestrator separates planning what to test from writing the cases.
type Orchestrator struct {
	model     Model
	contracts *schema.Contracts
	cfg       Config
	log       *observability.Logger
}

// New creates an orchestrator.
func New(model Model, cfg Config, log *observability.Logger) (*Orchestrator, error) {
	if model == nil {
		return nil, domain.ConfigError("model is required", nil)
	}
	if cfg.RepairAttempts < 0 {
		return nil, domain.ConfigError("repair attempts cannot be negative", nil)
	}
	if log == nil {
		log = observability.Nop()
	}

	contracts, err := schema.NewContracts(cfg.MinPrimaryScenarios)
	if err != nil {
		return nil, domain.ConfigError("build output contracts", err)
	}

	return &Orchestrator{
		model:     model,
		contracts: contracts,
		cfg:       cfg,
		log:       log.WithOperation("generate"),
	}, nil
}

// Run executes Plan then Generate. On failure the returned Outcome is in
// StateFailed and holds whatever completed before the failing stage.
func (o *Orchestrator) Run(ctx context.Context, payload *domain.ContentPayload, hooks Hooks) (*Outcome, error) {
	m := newMachine()
	out := &Outcome{State: m.state}

	fail := func(err error) (*Outcome, error) {
		_ = m.advance(StateFailed)
		out.State = m.state
		return out, err
	}

	if hooks.StageStarted != nil {
		hooks.StageStarted(domain.StagePlan)
	}
	plan, err := o.Plan(ctx, payload)
	if err != nil {
		return fail(err)
	}
	out.Plan = plan
	if hooks.Planned != nil {
		hooks.Planned(plan)
	}

	if err := m.advance(StateGenerate); err != nil {
		return fail(err)
	}
	out.State = m.state

	if hooks.StageStarted != nil {
		hooks.StageStarted(domain.StageGenerate)
	}
	cases, err := o.Generate(ctx, payload, plan)
	if err != nil {
		return fail(err)
	}
	out.Cases = cases

	if err := m.advance(StateComplete); err != nil {
		return fail(err)
	}
	out.State = m.state
	return out, nil
}

// Plan asks the model what to test and validates the answer.
func (o *Orchestrator) Plan(ctx context.Context, payload *domain.ContentPayload) (*domain.TestPlanResult, error) {
	start := time.Now()
	req := domain.CompletionRequest{
		System:     o.cfg.PlanDirective + "\n\n" + o.contracts.Plan.FormatInstructions(),
		Messages:   []domain.ChatMessage{{Role: domain.RoleUser, Parts: payload.Parts}},
		JSONOutput: true,
	}

	var plan domain.TestPlanResult
	if err := o.complete(ctx, domain.StagePlan, req, o.contracts.Plan, &plan); err != nil {
		return nil, err
	}
	if err := CheckPlan(&plan); err != nil {
		return nil, err
	}

	o.log.WithContext(ctx).Info().
		Strs("modules", plan.DetectedModules).
		Dur("duration", time.Since(start)).
		Msg("plan accepted")
	return &plan, nil
}

// Generate writes one case per planned primary scenario, following plan.
func (o *Orchestrator) Generate(ctx context.Context, payload *domain.ContentPayload, plan *domain.TestPlanResult) (*domain.TestCaseGenerationResult, error) {
	start := time.Now()
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, domain.StructuralParseError(domain.StageGenerate, "serialize approved plan", err)
	}

	req := domain.CompletionRequest{
		System: o.cfg.GenerateDirective +
			"\n\n# Approved test plan\n" + string(planJSON) +
			"\n\n" + o.contracts.Cases.FormatInstructions(),
		Messages:   []domain.ChatMessage{{Role: domain.RoleUser, Parts: payload.Parts}},
		JSONOutput: true,
	}

	var result domain.TestCaseGenerationResult
	if err := o.complete(ctx, domain.StageGenerate, req, o.contracts.Cases, &result); err != nil {
		return nil, err
	}
	if err := CheckCases(plan, &result); err != nil {
		return nil, err
	}

	o.log.WithContext(ctx).Info().
		Int("cases", len(result.Cases)).
		Dur("duration", time.Since(start)).
		Msg("cases accepted")
	return &result, nil
}

// complete calls the model and decodes its reply against contract, re-prompting
// with the validation error up to RepairAttempts times.
func (o *Orchestrator) complete(ctx context.Context, stage domain.Stage, req domain.CompletionRequest, contract *schema.Contract, out any) error {
	msgs := make([]domain.ChatMessage, len(req.Messages), len(req.Messages)+2*o.cfg.RepairAttempts)
	copy(msgs, req.Messages)
	req.Messages = msgs

	for attempt := 0; ; attempt++ {
		raw, err := o.model.Complete(ctx, req)
		if err != nil {
			return domain.APIError(fmt.Sprintf("%s stage model call failed", stage), err).WithStage(stage)
		}

		decodeErr := contract.Decode(raw, out)
		if decodeErr == nil {
			return nil
		}

		if attempt >= o.cfg.RepairAttempts {
			return domain.StructuralParseError(stage,
				fmt.Sprintf("%s stage output is malformed after %d attempt(s)", stage, attempt+1), decodeErr)
		}

		o.log.WithContext(ctx).Warn().
			Str("stage", string(stage)).
			Int("attempt", attempt+1).
			Err(decodeErr).
			Msg("model output rejected, re-prompting")

		req.Messages = append(req.Messages,
			domain.ChatMessage{Role: domain.RoleAssistant, Parts: []domain.Part{{Kind: domain.PartText, Text: raw}}},
			domain.ChatMessage{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: repairPrompt(decodeErr)}}},
		)
	}
}

func repairPrompt(err error) string {
	return "Your previous reply was rejected: " + err.Error() +
		"\nReply again with a single JSON object that satisfies the schema. Output the JSON only."
}
