// Package pipeline drives one request from document source to generated
// test cases, reporting every step on a stream.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/prd-testgen/internal/assemble"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/generate"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/stream"
)

// Generator runs the staged generation over an assembled payload.
type Generator interface {
	Run(ctx context.Context, payload *domain.ContentPayload, hooks generate.Hooks) (*generate.Outcome, error)
}

// Service orchestrates parse, assemble and generate for a single request.
type Service struct {
	assembler *assemble.Assembler
	generator Generator
	log       *observability.Logger
}

// NewService creates a pipeline service.
func NewService(assembler *assemble.Assembler, generator Generator, log *observability.Logger) *Service {
	if log == nil {
		log = observability.Nop()
	}
	return &Service{
		assembler: assembler,
		generator: generator,
		log:       log.WithOperation("pipeline"),
	}
}

// Run processes src and reports on em. Every failure after the first event is
// delivered in-band as the terminal error event; the returned error mirrors it
// for logging.
func (s *Service) Run(ctx context.Context, src domain.DocumentSource, em *stream.Emitter) error {
	startTime := time.Now()
	log := s.log.WithContext(ctx)

	err := em.Guard(func() error {
		if err := em.Logf("Parsing %s", src.Describe()); err != nil {
			return err
		}

		doc, err := src.Load(ctx)
		if err != nil {
			return err
		}

		payload := s.assembler.Build(doc.Nodes)
		if err := em.Images(payload.IndexByOrdinal()); err != nil {
			return err
		}

		for _, w := range doc.Warnings {
			if err := em.Log("Warning: " + w); err != nil {
				return err
			}
		}
		log.Info().
			Int("nodes", len(doc.Nodes)).
			Int("images", payload.ImageCount()).
			Int("warnings", len(doc.Warnings)).
			Msg("document parsed")

		// hook emissions run inside the generator; remember the first failure
		var emitErr error
		keep := func(err error) {
			if err != nil && emitErr == nil {
				emitErr = err
			}
		}

		outcome, err := s.generator.Run(ctx, payload, generate.Hooks{
			StageStarted: func(stage domain.Stage) {
				keep(em.Log(stageMessage(stage, payload)))
			},
			Planned: func(plan *domain.TestPlanResult) {
				keep(em.Analysis(plan))
			},
		})
		if err != nil {
			return err
		}
		if emitErr != nil {
			return emitErr
		}

		if err := em.Cases(outcome.Cases.Cases); err != nil {
			return err
		}

		return em.Done(fmt.Sprintf("Generated %d test cases across %d modules in %s",
			len(outcome.Cases.Cases), len(outcome.Plan.DetectedModules), time.Since(startTime).Round(time.Millisecond)))
	})

	if err != nil {
		log.Error().Str("stage", string(domain.StageOf(err))).Err(err).Msg("request failed")
		return err
	}

	log.Info().Dur("duration", time.Since(startTime)).Msg("request complete")
	return nil
}

func stageMessage(stage domain.Stage, payload *domain.ContentPayload) string {
	switch stage {
	case domain.StagePlan:
		return fmt.Sprintf("Planning test scenarios from %d content parts and %d images", len(payload.Parts), payload.ImageCount())
	case domain.StageGenerate:
		return "Writing test cases from the approved plan"
	default:
		return "Starting " + string(stage)
	}
}
