package generate

import (
	"fmt"
	"strings"

	"github.com/spherical/prd-testgen/internal/domain"
)

// CheckPlan verifies that detected_modules and analysis_and_plan name the same
// modules exactly once each. Mismatches are reported, never reconciled.
func CheckPlan(plan *domain.TestPlanResult) error {
	var problems []string

	detected := make(map[string]bool, len(plan.DetectedModules))
	for _, name := range plan.DetectedModules {
		if detected[name] {
			problems = append(problems, fmt.Sprintf("module %q detected more than once", name))
		}
		detected[name] = true
	}

	planned := make(map[string]bool, len(plan.AnalysisAndPlan))
	for _, m := range plan.AnalysisAndPlan {
		if planned[m.ModuleName] {
			problems = append(problems, fmt.Sprintf("module %q planned more than once", m.ModuleName))
		}
		planned[m.ModuleName] = true
		if !detected[m.ModuleName] {
			problems = append(problems, fmt.Sprintf("module %q planned but not detected", m.ModuleName))
		}
	}

	for _, name := range plan.DetectedModules {
		if !planned[name] {
			problems = append(problems, fmt.Sprintf("module %q detected but not planned", name))
		}
	}

	if len(problems) > 0 {
		return domain.PlanContractViolation(domain.StagePlan, "plan is inconsistent: "+strings.Join(dedupe(problems), "; "))
	}
	return nil
}

// CheckCases verifies that every case belongs to a planned module and that each
// module has exactly one primary stream case per planned primary scenario.
func CheckCases(plan *domain.TestPlanResult, result *domain.TestCaseGenerationResult) error {
	var problems []string

	want := make(map[string]int, len(plan.AnalysisAndPlan))
	for _, m := range plan.AnalysisAndPlan {
		want[m.ModuleName] = len(m.Scenarios(domain.PrimaryStream))
	}

	got := make(map[string]int, len(want))
	for _, c := range result.Cases {
		if _, ok := want[c.ModuleName]; !ok {
			problems = append(problems, fmt.Sprintf("case %q references unplanned module %q", c.Title, c.ModuleName))
			continue
		}
		if c.Type == domain.PrimaryStream {
			got[c.ModuleName]++
		}
	}

	for _, m := range plan.AnalysisAndPlan {
		if got[m.ModuleName] != want[m.ModuleName] {
			problems = append(problems, fmt.Sprintf("module %q: planned %d stream %s scenarios, generated %d",
				m.ModuleName, want[m.ModuleName], domain.PrimaryStream, got[m.ModuleName]))
		}
	}

	if len(problems) > 0 {
		return domain.PlanContractViolation(domain.StageGenerate, "cases do not match the plan: "+strings.Join(problems, "; "))
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
