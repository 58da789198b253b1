package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/internal/model"
)

func testTarget() model.Target {
	return model.Target{
		ID:         model.TargetID{ClassFQN: "com.example.Calculator", Method: "divide", ParamTypes: "int,int"},
		SourceFile: "src/main/java/com/example/Calculator.java",
		LineStart:  10,
		LineEnd:    12,
		Signature:  "int divide(int a, int b)",
		Javadoc:    "Divides two ints.",
		Collaborators: []string{"com.example.Logger"},
		Facts: model.AnalyzerFacts{
			BoundaryChecks: []string{"b != 0"},
		},
		CreatedRound: 0,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "comet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadTargetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	target := testTarget()

	require.NoError(t, s.SaveTarget(target))

	all, err := s.AllTargets()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, target.ID, all[0].ID)
	assert.Equal(t, target.Signature, all[0].Signature)
	assert.Equal(t, target.Collaborators, all[0].Collaborators)
	assert.Equal(t, target.Facts.BoundaryChecks, all[0].Facts.BoundaryChecks)
}

func TestSaveTargetUpsertsRatherThanDuplicates(t *testing.T) {
	s := openTestStore(t)
	target := testTarget()
	require.NoError(t, s.SaveTarget(target))

	target.Signature = "int divide(int a, int b) throws ArithmeticException"
	require.NoError(t, s.SaveTarget(target))

	all, err := s.AllTargets()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, target.Signature, all[0].Signature)
}

func TestMutantsByStatusFiltersCorrectly(t *testing.T) {
	s := openTestStore(t)
	target := testTarget().ID

	survived := model.Mutant{
		ID:             1,
		Target:         target,
		Patch:          model.Patch{FilePath: "f.java", LineStart: 11, LineEnd: 11, OriginalCode: "return a/b;", MutatedCode: "return a/(b+1);"},
		SemanticIntent: "off by one on divisor",
		SemanticTag:    model.TagOffByOne,
		Status:         model.MutantSurvived,
		CreatedRound:   1,
		EvaluatedAt:    time.Now(),
	}
	killed := survived
	killed.ID = 2
	killed.Status = model.MutantKilled

	require.NoError(t, s.SaveMutant(survived))
	require.NoError(t, s.SaveMutant(killed))

	got, err := s.MutantsByStatus(model.MutantSurvived)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.MutantID(1), got[0].ID)
	assert.False(t, got[0].EvaluatedAt.IsZero())
}

func TestNextMutantIDIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	target := testTarget().ID

	id, err := s.NextMutantID()
	require.NoError(t, err)
	assert.Equal(t, model.MutantID(1), id)

	require.NoError(t, s.SaveMutant(model.Mutant{
		ID: id, Target: target,
		Patch: model.Patch{FilePath: "f.java", LineStart: 1, LineEnd: 1, OriginalCode: "a", MutatedCode: "b"},
		Status: model.MutantPending,
	}))

	next, err := s.NextMutantID()
	require.NoError(t, err)
	assert.Equal(t, model.MutantID(2), next)
}

func TestCoverageSnapshotLatestPicksHighestRound(t *testing.T) {
	s := openTestStore(t)
	target := testTarget().ID

	require.NoError(t, s.SaveCoverageSnapshot(model.CoverageSnapshot{Target: target, Round: 1, LineCoverage: 0.4}))
	require.NoError(t, s.SaveCoverageSnapshot(model.CoverageSnapshot{Target: target, Round: 3, LineCoverage: 0.8}))
	require.NoError(t, s.SaveCoverageSnapshot(model.CoverageSnapshot{Target: target, Round: 2, LineCoverage: 0.6}))

	latest, ok, err := s.LatestCoverageSnapshot(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, latest.Round)
	assert.Equal(t, 0.8, latest.LineCoverage)
}

func TestLatestCoverageSnapshotMissingIsNotError(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LatestCoverageSnapshot(testTarget().ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBudgetCounterSaveAndLoad(t *testing.T) {
	s := openTestStore(t)

	empty, err := s.LoadBudget()
	require.NoError(t, err)
	assert.Equal(t, model.BudgetCounter{}, empty)

	require.NoError(t, s.SaveBudget(model.BudgetCounter{LLMCallsUsed: 42, RoundsUsed: 3, LastImprovementRound: 2}))
	loaded, err := s.LoadBudget()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.LLMCallsUsed)
	assert.Equal(t, 3, loaded.RoundsUsed)
}

func TestTestsForTargetAndEvaluationRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	target := testTarget().ID

	tc := model.TestCase{
		ID:             "t1",
		Target:         target,
		TestClassName:  model.TestClassNameFor("Calculator", "divide"),
		TestMethodName: "testDivideByZeroThrows",
		Source:         "@Test void testDivideByZeroThrows() {}",
		CreatedRound:   1,
		Origin:         string(model.OriginInitial),
		Status:         model.StatusActive,
	}
	require.NoError(t, s.SaveTestCase(tc))

	got, err := s.TestsForTarget(target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tc.TestMethodName, got[0].TestMethodName)

	run := model.EvaluationRun{
		ID:           "run-1",
		MutantID:     1,
		Target:       target,
		TestOutcomes: map[model.TestID]model.EvaluationOutcome{tc.ID: model.OutcomePass},
		WallTime:     150 * time.Millisecond,
		ExitCode:     0,
		Timestamp:    time.Now(),
	}
	require.NoError(t, s.SaveEvaluationRun(run))
}
