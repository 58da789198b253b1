package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/services/builddriver"
	"github.com/comet-forge/comet/services/sandbox"
)

func TestMutationScoreExcludesInvalidAndUnknown(t *testing.T) {
	mutants := []model.Mutant{
		{Status: model.MutantKilled},
		{Status: model.MutantKilled},
		{Status: model.MutantSurvived},
		{Status: model.MutantInvalid},
		{Status: model.MutantEvaluationError},
		{Status: model.MutantUnknown},
	}
	got := MutationScore(mutants)
	assert.InDelta(t, 2.0/3.0, got, 0.0001)
}

func TestMutationScoreZeroWhenNothingScored(t *testing.T) {
	mutants := []model.Mutant{{Status: model.MutantInvalid}}
	assert.Equal(t, 0.0, MutationScore(mutants))
}

func TestKillMatrixDedupesKillers(t *testing.T) {
	km := NewKillMatrix()
	km.AddKill(1, "T1")
	km.AddKill(1, "T1")
	km.AddKill(1, "T2")
	assert.True(t, km.IsKilled(1))
	assert.ElementsMatch(t, []model.TestID{"T1", "T2"}, km.Killers(1))
	assert.False(t, km.IsKilled(2))
}

// fakeBuildDriver stands in for the Build Driver Bridge: the first
// RunTests call is EvaluateTarget's baseline check, every call after that
// is the per-mutant run, whose result is set per test case.
type fakeBuildDriver struct {
	runTestsCalls   int
	perMutantResult *builddriver.Result
}

func (f *fakeBuildDriver) Compile(ctx context.Context, projectPath string) (*builddriver.Result, error) {
	return &builddriver.Result{Success: true}, nil
}

func (f *fakeBuildDriver) CompileTests(ctx context.Context, projectPath string) (*builddriver.Result, error) {
	return &builddriver.Result{Success: true}, nil
}

func (f *fakeBuildDriver) RunTests(ctx context.Context, projectPath string) (*builddriver.Result, error) {
	f.runTestsCalls++
	if f.runTestsCalls == 1 {
		return &builddriver.Result{Success: true}, nil
	}
	return f.perMutantResult, nil
}

type fakeTestSource struct {
	tests []model.TestCase
}

func (f *fakeTestSource) ActiveTests(target model.TargetID) ([]model.TestCase, error) {
	return f.tests, nil
}

// newEvalFixture sets up a real sandbox.Manager over a temp project
// directory containing a single one-line source file, ready to have a
// mutant patch applied to it.
func newEvalFixture(t *testing.T) (*sandbox.Manager, model.Patch) {
	t.Helper()
	projectDir := t.TempDir()
	original := "public int divide(int a, int b) { return a / b; }\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "Calculator.java"), []byte(original), 0o644))

	sandboxDir := filepath.Join(t.TempDir(), "sandboxes")
	mgr := sandbox.New(projectDir, sandboxDir, nil)
	_, err := mgr.CreateWorkspace()
	require.NoError(t, err)

	patch := model.Patch{
		FilePath:     "Calculator.java",
		LineStart:    1,
		LineEnd:      1,
		OriginalCode: original,
		MutatedCode:  "public int divide(int a, int b) { return a * b; }\n",
	}
	return mgr, patch
}

var divideTarget = model.TargetID{ClassFQN: "com.example.Calculator", Method: "divide", ParamTypes: "int,int"}

func divideActiveTest() model.TestCase {
	return model.TestCase{
		ID:             "T-divide-1",
		Target:         divideTarget,
		TestClassName:  model.TestClassNameFor("Calculator", "divide"),
		TestMethodName: "testDivideByZero",
		Status:         model.StatusActive,
	}
}

// TestEvaluateTargetIgnoresCrossTargetFailures is the regression test for
// the cross-target contamination bug: RunTests reports a merged
// whole-project report where an unrelated target's test failed and this
// target's own active test passed, so the mutant must survive
// (spec.md §3: cross-target tests never count).
func TestEvaluateTargetIgnoresCrossTargetFailures(t *testing.T) {
	mgr, patch := newEvalFixture(t)
	active := divideActiveTest()
	ownKey := "com.example.Calculator_divideTest#testDivideByZero"
	crossKey := "com.example.Other_fooTest#testFoo"

	build := &fakeBuildDriver{
		perMutantResult: &builddriver.Result{
			Success: false,
			PerTest: map[string]bool{
				ownKey:   true,  // this target's own test still passes
				crossKey: false, // an unrelated target's test failed
			},
		},
	}
	tests := &fakeTestSource{tests: []model.TestCase{active}}
	eval := New(mgr, build, tests, nil)

	mutant := model.Mutant{ID: 1, Target: divideTarget, Patch: patch, Status: model.MutantPending}
	outcomes, km, err := eval.EvaluateTarget(context.Background(), divideTarget, []model.Mutant{mutant})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, model.MutantSurvived, outcomes[0].Mutant.Status)
	assert.Empty(t, outcomes[0].Killer)
	assert.False(t, km.IsKilled(1))
}

// TestEvaluateTargetKillsOnOwnFailingTest proves a genuine failure of the
// target's own active test still kills the mutant, and that the killer
// attributed is that test's ID (not a foreign target's test, and not
// picked from non-deterministic map order).
func TestEvaluateTargetKillsOnOwnFailingTest(t *testing.T) {
	mgr, patch := newEvalFixture(t)
	active := divideActiveTest()
	ownKey := "com.example.Calculator_divideTest#testDivideByZero"
	crossKey := "com.example.Other_fooTest#testFoo"

	build := &fakeBuildDriver{
		perMutantResult: &builddriver.Result{
			Success: false,
			PerTest: map[string]bool{
				ownKey:   false,
				crossKey: false,
			},
		},
	}
	tests := &fakeTestSource{tests: []model.TestCase{active}}
	eval := New(mgr, build, tests, nil)

	mutant := model.Mutant{ID: 2, Target: divideTarget, Patch: patch, Status: model.MutantPending}
	outcomes, km, err := eval.EvaluateTarget(context.Background(), divideTarget, []model.Mutant{mutant})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, model.MutantKilled, outcomes[0].Mutant.Status)
	assert.Equal(t, active.ID, outcomes[0].Killer)
	assert.True(t, km.IsKilled(2))
	assert.ElementsMatch(t, []model.TestID{active.ID}, km.Killers(2))
}

// TestEvaluateTargetFallsBackWhenReportHasNoOwnTests covers a build tool
// with no per-test report support wired up: PerTest is empty, so scoping
// finds nothing, and the coarse whole-run result decides the outcome
// rather than declaring every mutant a survivor.
func TestEvaluateTargetFallsBackWhenReportHasNoOwnTests(t *testing.T) {
	mgr, patch := newEvalFixture(t)
	active := divideActiveTest()

	build := &fakeBuildDriver{
		perMutantResult: &builddriver.Result{Success: false, PerTest: map[string]bool{}},
	}
	tests := &fakeTestSource{tests: []model.TestCase{active}}
	eval := New(mgr, build, tests, nil)

	mutant := model.Mutant{ID: 3, Target: divideTarget, Patch: patch, Status: model.MutantPending}
	outcomes, _, err := eval.EvaluateTarget(context.Background(), divideTarget, []model.Mutant{mutant})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, model.MutantKilled, outcomes[0].Mutant.Status)
	assert.Empty(t, outcomes[0].Killer)
}
