package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/config"
)

func defaultAgentConfig() config.AgentConfig {
	return config.Default().Agent
}

func TestSelectTargetPicksHighestScore(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{
		{Target: model.TargetID{ClassFQN: "A"}, MutationScore: 0.9, LineCoverage: 0.9, BranchCoverage: 0.9},
		{Target: model.TargetID{ClassFQN: "B"}, MutationScore: 0.1, LineCoverage: 0.1, BranchCoverage: 0.1},
	}
	selected, ok := SelectTarget(cfg, stats)
	assert.True(t, ok)
	assert.Equal(t, "B", selected.Target.ClassFQN)
}

func TestSelectTargetSkipsBlacklisted(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{
		{Target: model.TargetID{ClassFQN: "A"}, Blacklisted: true},
		{Target: model.TargetID{ClassFQN: "B"}, MutationScore: 0.5, LineCoverage: 0.5, BranchCoverage: 0.5},
	}
	selected, ok := SelectTarget(cfg, stats)
	assert.True(t, ok)
	assert.Equal(t, "B", selected.Target.ClassFQN)
}

func TestSelectTargetReturnsFalseWhenAllBlacklisted(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{{Target: model.TargetID{ClassFQN: "A"}, Blacklisted: true}}
	_, ok := SelectTarget(cfg, stats)
	assert.False(t, ok)
}

func TestSelectTargetTieBreaksByRoundsSpentThenTargetID(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{
		{Target: model.TargetID{ClassFQN: "Z"}, RoundsSpent: 2},
		{Target: model.TargetID{ClassFQN: "A"}, RoundsSpent: 1},
		{Target: model.TargetID{ClassFQN: "B"}, RoundsSpent: 1},
	}
	selected, ok := SelectTarget(cfg, stats)
	assert.True(t, ok)
	assert.Equal(t, "A", selected.Target.ClassFQN)
}

func TestChooseActionGenerateTestsWhenNoTests(t *testing.T) {
	cfg := defaultAgentConfig()
	assert.Equal(t, ActionGenerateTests, ChooseAction(cfg, TargetStat{HasTests: false}))
}

func TestChooseActionRefineTestsWhenMutantsSurvived(t *testing.T) {
	cfg := defaultAgentConfig()
	got := ChooseAction(cfg, TargetStat{HasTests: true, SurvivingMutants: 2})
	assert.Equal(t, ActionRefineTests, got)
}

func TestChooseActionGenerateMutantsWhenHighScoreAndNotRecentlyGenerated(t *testing.T) {
	cfg := defaultAgentConfig()
	got := ChooseAction(cfg, TargetStat{HasTests: true, MutationScore: 0.9})
	assert.Equal(t, ActionGenerateMutants, got)
}

func TestChooseActionSkipsGenerateMutantsIfGeneratedThisRound(t *testing.T) {
	cfg := defaultAgentConfig()
	got := ChooseAction(cfg, TargetStat{HasTests: true, MutationScore: 0.9, MutantsGeneratedThisRound: true, NewMutantsSinceEval: true})
	assert.Equal(t, ActionRunEvaluation, got)
}

func TestChooseActionRunEvaluationWhenNewMutants(t *testing.T) {
	cfg := defaultAgentConfig()
	got := ChooseAction(cfg, TargetStat{HasTests: true, MutationScore: 0.2, NewMutantsSinceEval: true})
	assert.Equal(t, ActionRunEvaluation, got)
}

func TestChooseActionAdvanceWhenNothingLeft(t *testing.T) {
	cfg := defaultAgentConfig()
	got := ChooseAction(cfg, TargetStat{HasTests: true, MutationScore: 0.2})
	assert.Equal(t, ActionAdvance, got)
}

func TestCheckStopMaxIterations(t *testing.T) {
	cfg := defaultAgentConfig()
	reason, stop := CheckStop(cfg, model.BudgetCounter{RoundsUsed: cfg.MaxIterations}, []TargetStat{{Target: model.TargetID{ClassFQN: "A"}}})
	assert.True(t, stop)
	assert.Equal(t, StopMaxIterations, reason)
}

func TestCheckStopBudgetExhausted(t *testing.T) {
	cfg := defaultAgentConfig()
	reason, stop := CheckStop(cfg, model.BudgetCounter{LLMCallsUsed: cfg.BudgetLLMCalls}, []TargetStat{{Target: model.TargetID{ClassFQN: "A"}}})
	assert.True(t, stop)
	assert.Equal(t, StopBudgetExhausted, reason)
}

func TestCheckStopNoImprovement(t *testing.T) {
	cfg := defaultAgentConfig()
	budget := model.BudgetCounter{RoundsUsed: cfg.StopOnNoImprovementRounds, LastImprovementRound: 0}
	reason, stop := CheckStop(cfg, budget, []TargetStat{{Target: model.TargetID{ClassFQN: "A"}}})
	assert.True(t, stop)
	assert.Equal(t, StopNoImprovement, reason)
}

func TestCheckStopGlobalExcellence(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{{
		Target: model.TargetID{ClassFQN: "A"},
		MutationScore:  cfg.ExcellenceThresholds.MutationScore,
		LineCoverage:   cfg.ExcellenceThresholds.LineCoverage,
		BranchCoverage: cfg.ExcellenceThresholds.BranchCoverage,
	}}
	reason, stop := CheckStop(cfg, model.BudgetCounter{LastImprovementRound: 0}, stats)
	assert.True(t, stop)
	assert.Equal(t, StopExcellence, reason)
}

func TestCheckStopNoEligibleTargets(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{{Target: model.TargetID{ClassFQN: "A"}, Blacklisted: true}}
	reason, stop := CheckStop(cfg, model.BudgetCounter{}, stats)
	assert.True(t, stop)
	assert.Equal(t, StopNoEligibleTargets, reason)
}

func TestCheckStopContinuesWhenNothingTriggers(t *testing.T) {
	cfg := defaultAgentConfig()
	stats := []TargetStat{{Target: model.TargetID{ClassFQN: "A"}, MutationScore: 0.3, LineCoverage: 0.3, BranchCoverage: 0.3}}
	_, stop := CheckStop(cfg, model.BudgetCounter{}, stats)
	assert.False(t, stop)
}

func TestImprovedRequiresThreshold(t *testing.T) {
	prev := TargetStat{MutationScore: 0.50}
	tiny := TargetStat{MutationScore: 0.505}
	real := TargetStat{MutationScore: 0.55}
	assert.False(t, Improved(0.01, prev, tiny))
	assert.True(t, Improved(0.01, prev, real))
}

func TestShouldBlacklistAfterConsecutiveNoopRounds(t *testing.T) {
	cfg := defaultAgentConfig()
	assert.False(t, ShouldBlacklist(cfg, TargetStat{NoopRounds: cfg.BlacklistAfterNoopRounds - 1}))
	assert.True(t, ShouldBlacklist(cfg, TargetStat{NoopRounds: cfg.BlacklistAfterNoopRounds}))
}
