// Package planner implements the Planner Agent (spec.md §4.5): the
// round-by-round scheduler that selects a target, chooses an action for
// it, drives the LLM-backed generation/refinement actions, and decides
// when the run stops.
//
// spec.md §4.5 replaces the original PlannerAgent._make_decision's
// LLM-chosen-action loop (original_source/comet/agent/planner.py) with a
// deterministic weighted-scoring target selector and an explicit action
// decision tree; there is no REDESIGN FLAGS section contradicting this, so
// this package follows spec.md's literal algorithm and reserves the LLM
// for the content of generation actions, not for choosing them.
package planner

import (
	"sort"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/config"
)

// TargetStat is the per-target rollup the scheduler scores and branches
// on for one round. It is derived fresh each round from targetState.
type TargetStat struct {
	Target model.TargetID

	MutationScore  float64
	LineCoverage   float64
	BranchCoverage float64

	HasTests            bool
	SurvivingMutants    int
	MutantsGeneratedThisRound bool
	NewMutantsSinceEval bool

	RoundsSpent int
	NoopRounds  int
	Blacklisted bool
}

// Action names one branch of spec.md §4.5's decision tree.
type Action string

const (
	ActionGenerateTests   Action = "generate_tests"
	ActionRefineTests     Action = "refine_tests"
	ActionGenerateMutants Action = "generate_mutants"
	ActionRunEvaluation   Action = "run_evaluation"
	// ActionAdvance means this target has nothing productive left to do
	// this round; the scheduler moves on to the next-highest-scoring
	// target instead of burning a round on it.
	ActionAdvance Action = "advance"
)

// score computes spec.md §4.5's weighted target-selection formula:
// w1*(1-mutation_score) + w2*(1-line_coverage) + w3*(1-branch_coverage)
// - w4*recent_noop_penalty.
func score(w config.AgentConfig, s TargetStat) float64 {
	return w.WeightMutationScore*(1-s.MutationScore) +
		w.WeightLineCoverage*(1-s.LineCoverage) +
		w.WeightBranchCoverage*(1-s.BranchCoverage) -
		w.WeightNoopPenalty*float64(s.NoopRounds)
}

// targetIDLess orders TargetIDs lexicographically by (ClassFQN, Method,
// ParamTypes), the tie-break spec.md §4.5 names after "fewer rounds spent".
func targetIDLess(a, b model.TargetID) bool {
	if a.ClassFQN != b.ClassFQN {
		return a.ClassFQN < b.ClassFQN
	}
	if a.Method != b.Method {
		return a.Method < b.Method
	}
	return a.ParamTypes < b.ParamTypes
}

// SelectTarget picks the highest-scoring non-blacklisted target, ties
// broken by fewer rounds spent then TargetID ordering, per spec.md §4.5.
// The second return is false when every target is blacklisted.
func SelectTarget(w config.AgentConfig, stats []TargetStat) (TargetStat, bool) {
	eligible := make([]TargetStat, 0, len(stats))
	for _, s := range stats {
		if !s.Blacklisted {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return TargetStat{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := score(w, eligible[i]), score(w, eligible[j])
		if si != sj {
			return si > sj
		}
		if eligible[i].RoundsSpent != eligible[j].RoundsSpent {
			return eligible[i].RoundsSpent < eligible[j].RoundsSpent
		}
		return targetIDLess(eligible[i].Target, eligible[j].Target)
	})
	return eligible[0], true
}

// ChooseAction implements spec.md §4.5's decision tree for a single
// already-selected target:
//
//  1. no tests yet             -> generate_tests
//  2. surviving mutants exist  -> refine_tests (oldest survivors first)
//  3. mutation score is high and mutants weren't just generated
//     -> generate_mutants
//  4. new mutants since the last evaluation -> run_evaluation
//  5. otherwise                -> advance (nothing left to do this round)
func ChooseAction(cfg config.AgentConfig, s TargetStat) Action {
	if !s.HasTests {
		return ActionGenerateTests
	}
	if s.SurvivingMutants > 0 {
		return ActionRefineTests
	}
	if s.MutationScore >= cfg.HighMutationScoreThreshold && !s.MutantsGeneratedThisRound {
		return ActionGenerateMutants
	}
	if s.NewMutantsSinceEval {
		return ActionRunEvaluation
	}
	return ActionAdvance
}

// StopReason names why the round loop ended, per spec.md §4.5's five
// global stop conditions.
type StopReason string

const (
	StopMaxIterations    StopReason = "max_iterations_reached"
	StopBudgetExhausted  StopReason = "llm_budget_exhausted"
	StopNoImprovement    StopReason = "no_improvement"
	StopExcellence       StopReason = "global_excellence_reached"
	StopNoEligibleTargets StopReason = "no_eligible_targets"
)

// CheckStop evaluates spec.md §4.5's five stop conditions in the order
// the spec lists them, returning the first one that holds.
func CheckStop(cfg config.AgentConfig, budget model.BudgetCounter, stats []TargetStat) (StopReason, bool) {
	if budget.RoundsUsed >= cfg.MaxIterations {
		return StopMaxIterations, true
	}
	if budget.LLMCallsUsed >= cfg.BudgetLLMCalls {
		return StopBudgetExhausted, true
	}
	if budget.RoundsUsed-budget.LastImprovementRound >= cfg.StopOnNoImprovementRounds {
		return StopNoImprovement, true
	}
	if globalExcellence(cfg, stats) {
		return StopExcellence, true
	}
	if !anyEligible(stats) {
		return StopNoEligibleTargets, true
	}
	return "", false
}

// globalExcellence reports whether every known target has crossed all
// three excellence thresholds (spec.md §4.5). An empty target set is
// never excellent: there is nothing to have improved.
func globalExcellence(cfg config.AgentConfig, stats []TargetStat) bool {
	if len(stats) == 0 {
		return false
	}
	th := cfg.ExcellenceThresholds
	for _, s := range stats {
		if s.MutationScore < th.MutationScore || s.LineCoverage < th.LineCoverage || s.BranchCoverage < th.BranchCoverage {
			return false
		}
	}
	return true
}

func anyEligible(stats []TargetStat) bool {
	for _, s := range stats {
		if !s.Blacklisted {
			return true
		}
	}
	return false
}

// Improved reports whether curr shows a real gain over prev on any of the
// three tracked quality metrics, "real" meaning at least
// minImprovementThreshold (spec.md's resolution of the sub-0.01
// fluctuation Open Question: see DESIGN.md).
func Improved(minImprovementThreshold float64, prev, curr TargetStat) bool {
	return curr.MutationScore-prev.MutationScore >= minImprovementThreshold ||
		curr.LineCoverage-prev.LineCoverage >= minImprovementThreshold ||
		curr.BranchCoverage-prev.BranchCoverage >= minImprovementThreshold
}

// ShouldBlacklist reports whether a target has gone noopRounds
// consecutive rounds in which it was selected but its action was advance or
// changed none of its mutation score, line coverage and branch coverage,
// and so should stop competing for
// selection for the remainder of the run.
func ShouldBlacklist(cfg config.AgentConfig, s TargetStat) bool {
	return cfg.BlacklistAfterNoopRounds > 0 && s.NoopRounds >= cfg.BlacklistAfterNoopRounds
}
