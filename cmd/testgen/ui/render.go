package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spherical/prd-testgen/pkg/testgen"
)

// Outcome is what a rendered stream produced.
type Outcome struct {
	Images int
	Plan   *testgen.Plan
	Cases  []testgen.TestCase
	Err    *testgen.Event
}

// Renderer prints generation events as they arrive. A spinner carries the
// latest log line between events and gives way to the image progress bar.
type Renderer struct {
	spin     *Spinner
	progress *ImageProgress
	outcome  Outcome
}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	spin := NewSpinner("Starting...")
	return &Renderer{spin: spin, progress: NewImageProgress(spin)}
}

// ImageProgress returns the callback that drives the renderer's image
// download bar. It may be called from any goroutine.
func (r *Renderer) ImageProgress() func(done, total int) {
	return r.progress.Update
}

func (r *Renderer) stop() {
	r.progress.mu.Lock()
	defer r.progress.mu.Unlock()
	r.stop()
}

// start resumes the spinner, or defers it until a live bar finishes.
func (r *Renderer) start() {
	r.progress.mu.Lock()
	defer r.progress.mu.Unlock()
	if r.progress.bar != nil {
		r.progress.paused = true
		return
	}
	r.start()
}

// Consume renders every event until the channel closes.
func (r *Renderer) Consume(events <-chan testgen.Event) Outcome {
	defer r.stop()
	for ev := range events {
		r.Handle(ev)
	}
	return r.outcome
}

// Handle renders a single event.
func (r *Renderer) Handle(ev testgen.Event) {
	switch ev.Type {
	case testgen.EventLog:
		r.stop()
		if strings.HasPrefix(ev.Message, "Warning:") {
			Warning("%s", strings.TrimSpace(strings.TrimPrefix(ev.Message, "Warning:")))
		} else {
			Info("%s", ev.Message)
		}
		r.spin.UpdateMessage(ev.Message)
		r.start()

	case testgen.EventImages:
		images, err := ev.Images()
		if err != nil {
			r.stop()
			Warning("unreadable images event: %v", err)
			return
		}
		r.outcome.Images = len(images)
		if len(images) > 0 {
			r.stop()
			Detail("%d reference images attached", len(images))
			r.start()
		}

	case testgen.EventAnalysis:
		r.stop()
		plan, err := ev.Plan()
		if err != nil {
			Warning("unreadable analysis event: %v", err)
			return
		}
		r.outcome.Plan = plan
		renderPlan(plan)
		r.start()

	case testgen.EventCases:
		r.stop()
		cases, err := ev.Cases()
		if err != nil {
			Warning("unreadable cases event: %v", err)
			return
		}
		r.outcome.Cases = cases
		renderCases(cases)

	case testgen.EventDone:
		r.stop()
		Newline()
		Success("%s", ev.Message)

	case testgen.EventError:
		r.stop()
		errEvent := ev
		r.outcome.Err = &errEvent
		if ev.Stage != "" {
			Error("%s stage failed: %s", ev.Stage, ev.Message)
		} else {
			Error("%s", ev.Message)
		}

	default:
		Detail("ignoring %q event", ev.Type)
	}
}

func renderPlan(plan *testgen.Plan) {
	Section("Test Plan")
	rows := make([][]string, 0, len(plan.AnalysisAndPlan))
	for _, m := range plan.AnalysisAndPlan {
		rows = append(rows, []string{
			m.ModuleName,
			strconv.Itoa(len(m.IdentifiedInputs)),
			strconv.Itoa(len(m.PlannedStreamA)),
			strconv.Itoa(len(m.PlannedStreamB)),
			strconv.Itoa(len(m.PlannedStreamC)),
		})
	}
	Table([]string{"Module", "Inputs", "A", "B", "C"}, rows)

	if verboseFlag {
		for _, m := range plan.AnalysisAndPlan {
			Newline()
			KeyValue("Module", m.ModuleName)
			for _, c := range m.BusinessConstraints {
				Detail("constraint: %s", c)
			}
			for _, s := range m.PlannedStreamA {
				Detail("A: %s", s)
			}
		}
	}
}

func renderCases(cases []testgen.TestCase) {
	Section(fmt.Sprintf("Test Cases (%d)", len(cases)))
	rows := make([][]string, 0, len(cases))
	for i, c := range cases {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.ModuleName,
			c.Type,
			Truncate(c.Title, 48),
			Truncate(c.ExpectedResult, 48),
		})
	}
	Table([]string{"#", "Module", "Stream", "Title", "Expected"}, rows)

	if verboseFlag {
		for i, c := range cases {
			Newline()
			KeyValue(strconv.Itoa(i+1), c.Title)
			KeyValue("Pre-condition", c.PreCondition)
			for _, step := range c.Steps {
				Detail("%s", step)
			}
			KeyValue("Expected", c.ExpectedResult)
			if c.VisualEvidence != "" && c.VisualEvidence != "none" {
				KeyValue("Evidence", c.VisualEvidence)
			}
		}
	}
}
