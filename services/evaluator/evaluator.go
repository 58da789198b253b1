// Package evaluator implements the Mutation Evaluator (spec.md §4.4): for
// one Target and its current active tests, classify each submitted Mutant
// as killed, survived, invalid, evaluation_error, or unknown.
//
// Grounded on original_source/comet/executor/mutation_evaluator.py for the
// baseline-check-then-per-mutant-cycle algorithm and kill-matrix
// construction. EvaluateTarget processes one target's mutant queue
// sequentially; nothing in this package runs several targets at once, and
// agent.parallel_targets is not read here.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/pkg/logging"
	"github.com/comet-forge/comet/services/builddriver"
	"github.com/comet-forge/comet/services/sandbox"
)

// TestSource supplies a target's currently active Test Cases, so the
// Evaluator can scope a whole-project test run's results down to just
// this target's own tests (spec.md §3: "A Mutant is evaluated only
// against its Target's current active Test Cases; cross-target tests
// never count"). Satisfied by *services/store.Store.
type TestSource interface {
	ActiveTests(target model.TargetID) ([]model.TestCase, error)
}

// BuildDriver is the subset of the Build Driver Bridge (services/builddriver)
// the Evaluator drives, declared as an interface so tests can supply a
// fake double instead of shelling out to a real build tool.
type BuildDriver interface {
	Compile(ctx context.Context, projectPath string) (*builddriver.Result, error)
	CompileTests(ctx context.Context, projectPath string) (*builddriver.Result, error)
	RunTests(ctx context.Context, projectPath string) (*builddriver.Result, error)
}

// KillMatrix records, per mutant, which tests killed it (spec.md §3
// "Evaluation Run" is the append-only per-attempt record; KillMatrix is
// the derived summary original_source/comet/models.py's KillMatrix models).
type KillMatrix struct {
	matrix map[model.MutantID][]model.TestID
}

func NewKillMatrix() *KillMatrix {
	return &KillMatrix{matrix: make(map[model.MutantID][]model.TestID)}
}

func (k *KillMatrix) AddKill(mutant model.MutantID, test model.TestID) {
	for _, t := range k.matrix[mutant] {
		if t == test {
			return
		}
	}
	k.matrix[mutant] = append(k.matrix[mutant], test)
}

func (k *KillMatrix) IsKilled(mutant model.MutantID) bool {
	return len(k.matrix[mutant]) > 0
}

func (k *KillMatrix) Killers(mutant model.MutantID) []model.TestID {
	return k.matrix[mutant]
}

// Evaluator drives the algorithm of spec.md §4.4 for a single target's
// mutant queue.
type Evaluator struct {
	sandboxes *sandbox.Manager
	build     BuildDriver
	tests     TestSource
	logger    *logging.Logger
}

func New(sandboxes *sandbox.Manager, build BuildDriver, tests TestSource, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{sandboxes: sandboxes, build: build, tests: tests, logger: logger}
}

// EvaluateOutcome bundles a Mutant's post-evaluation state with the
// kill-matrix update it produced.
type EvaluateOutcome struct {
	Mutant model.Mutant
	Killer model.TestID // zero value if not killed
}

// EvaluateTarget runs the full algorithm: baseline check, then each
// pending mutant against the workspace's current active tests for target,
// in FIFO order. Returns baseline_regressed (as an error) if the
// baseline itself fails, aborting the whole cycle per spec.md §4.4 step 1.
func (e *Evaluator) EvaluateTarget(ctx context.Context, target model.TargetID, mutants []model.Mutant) ([]EvaluateOutcome, *KillMatrix, error) {
	ws, err := e.sandboxes.Path(sandbox.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}

	baseline, err := e.build.RunTests(ctx, ws)
	if err != nil {
		return nil, nil, err
	}
	if !baseline.Success {
		return nil, nil, errkind.New("evaluator.EvaluateTarget", errkind.BaselineRegressed)
	}

	km := NewKillMatrix()
	outcomes := make([]EvaluateOutcome, 0, len(mutants))

	for _, m := range mutants {
		if m.Status != model.MutantPending {
			continue
		}
		outcome, err := e.evaluateOne(ctx, target, m, km)
		if err != nil && outcome.Mutant.Status == model.MutantEvaluationError {
			// Runner-level errors (non-test failure, unclassified exit
			// code) are retried once before the mutant is given up on as
			// `unknown` (spec.md §4.4 step 2e).
			e.logger.Warn("retrying mutant evaluation after runner error", "mutant_id", m.ID, "error", err)
			outcome, err = e.evaluateOne(ctx, target, m, km)
			if err != nil {
				outcome.Mutant.Status = model.MutantUnknown
			}
		} else if err != nil {
			e.logger.Warn("mutant evaluation errored", "mutant_id", m.ID, "error", err)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, km, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, target model.TargetID, m model.Mutant, km *KillMatrix) (EvaluateOutcome, error) {
	sbxID := fmt.Sprintf("mutant_%d", m.ID)
	defer func() {
		if err := e.sandboxes.Destroy(sbxID); err != nil {
			e.logger.Warn("failed to destroy target sandbox", "id", sbxID, "error", err)
		}
	}()

	sbxPath, err := e.sandboxes.CreateTargetSandbox(m.ID)
	if err != nil {
		m.Status = model.MutantEvaluationError
		return EvaluateOutcome{Mutant: m}, err
	}

	if err := sandbox.ApplyPatch(sbxPath, m.Patch); err != nil {
		m.Status = model.MutantInvalid
		m.CompileError = err.Error()
		return EvaluateOutcome{Mutant: m}, nil
	}

	compileRes, err := e.build.Compile(ctx, sbxPath)
	if err != nil || compileRes == nil || !compileRes.Success {
		m.Status = model.MutantInvalid
		if compileRes != nil {
			m.CompileError = compileRes.Error
		}
		return EvaluateOutcome{Mutant: m}, nil
	}

	testCompileRes, err := e.build.CompileTests(ctx, sbxPath)
	if err != nil || testCompileRes == nil || !testCompileRes.Success {
		m.Status = model.MutantInvalid
		if testCompileRes != nil {
			m.CompileError = testCompileRes.Error
		}
		return EvaluateOutcome{Mutant: m}, nil
	}

	testRes, err := e.build.RunTests(ctx, sbxPath)
	if err != nil {
		if errkind.Is(err, errkind.Timeout) {
			m.Status = model.MutantEvaluationError
			return EvaluateOutcome{Mutant: m}, err
		}
		m.Status = model.MutantEvaluationError
		return EvaluateOutcome{Mutant: m}, err
	}
	if testRes == nil {
		m.Status = model.MutantUnknown
		return EvaluateOutcome{Mutant: m}, errkind.New("evaluator.evaluateOne", errkind.InternalInvariant)
	}

	active, err := e.tests.ActiveTests(target)
	if err != nil {
		m.Status = model.MutantEvaluationError
		return EvaluateOutcome{Mutant: m}, err
	}

	// RunTests reports the whole project's surefire results, merged
	// across every target's report file (services/builddriver/reports.go's
	// ParseTestReportDir). Scope that map down to target's own active
	// tests before deciding killed/survived, so a failure in an unrelated
	// target's suite never counts here (spec.md §3).
	killer := e.firstFailingActiveTest(target, active, testRes.PerTest)
	killed := killer != ""
	if killer == "" && !e.anyActiveTestScoped(target, active, testRes.PerTest) {
		// The report parser found none of this target's own tests (no
		// report support configured, or the report dir is empty): fall
		// back to the coarse whole-run result rather than declaring
		// every mutant a survivor.
		killed = !testRes.Success
	}

	if !killed {
		m.Status = model.MutantSurvived
		return EvaluateOutcome{Mutant: m}, nil
	}

	if killer != "" {
		km.AddKill(m.ID, killer)
		m.KilledBy = append(m.KilledBy, killer)
	}
	m.Status = model.MutantKilled
	return EvaluateOutcome{Mutant: m, Killer: killer}, nil
}

// qualifiedTestClassName reconstructs the fully qualified class name a
// generated test class was written under: target's own package plus its
// dedicated TestClassNameFor class (services/planner/actions.go writes
// exactly one such class per target, in the target's package).
func qualifiedTestClassName(target model.TargetID, testClassName string) string {
	idx := strings.LastIndex(target.ClassFQN, ".")
	if idx < 0 {
		return testClassName
	}
	return target.ClassFQN[:idx] + "." + testClassName
}

// firstFailingActiveTest returns the TestID of the first of target's own
// active tests that failed in perTest, in active's order (deterministic,
// unlike ranging over the merged report map directly), or "" if none did.
func (e *Evaluator) firstFailingActiveTest(target model.TargetID, active []model.TestCase, perTest map[string]bool) model.TestID {
	for _, tc := range active {
		key := qualifiedTestClassName(target, tc.TestClassName) + "#" + tc.TestMethodName
		if passed, ok := perTest[key]; ok && !passed {
			return tc.ID
		}
	}
	return ""
}

// anyActiveTestScoped reports whether perTest contains a result for at
// least one of target's own active tests, i.e. whether scoping actually
// found anything to judge by.
func (e *Evaluator) anyActiveTestScoped(target model.TargetID, active []model.TestCase, perTest map[string]bool) bool {
	for _, tc := range active {
		key := qualifiedTestClassName(target, tc.TestClassName) + "#" + tc.TestMethodName
		if _, ok := perTest[key]; ok {
			return true
		}
	}
	return false
}

// MutationScore computes killed/(killed+survived) across a set of
// evaluated mutants, matching spec.md §4.4 step 3 / §8 property 3.
func MutationScore(mutants []model.Mutant) float64 {
	var killed, survived int
	for _, m := range mutants {
		switch m.Status {
		case model.MutantKilled:
			killed++
		case model.MutantSurvived:
			survived++
		}
	}
	if killed+survived == 0 {
		return 0
	}
	return float64(killed) / float64(killed+survived)
}
