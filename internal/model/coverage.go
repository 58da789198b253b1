package model

// CoverageSnapshot is the per-target, per-round quality record spec.md §3
// defines: line coverage, branch coverage, mutation score, tests count.
type CoverageSnapshot struct {
	Target TargetID
	Round  int

	LineCoverage   float64
	BranchCoverage float64

	KilledMutants   int
	SurvivedMutants int
	TestsCount      int
}

// MutationScore computes killed / (killed + survived), returning 0 when
// there is nothing scored yet (spec.md §4.4 step 3 / §8 property 3).
func (c CoverageSnapshot) MutationScore() float64 {
	denom := c.KilledMutants + c.SurvivedMutants
	if denom == 0 {
		return 0
	}
	return float64(c.KilledMutants) / float64(denom)
}

// BudgetCounter is the process-wide accounting spec.md §3 requires: LLM
// calls spent, rounds spent, and the round of the last observed
// improvement (used by the no-improvement stop condition, spec.md §4.5).
type BudgetCounter struct {
	LLMCallsUsed      int
	RoundsUsed        int
	LastImprovementRound int
}
