package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/pkg/logging"
	"github.com/comet-forge/comet/services/analyzer"
	"github.com/comet-forge/comet/services/builddriver"
	"github.com/comet-forge/comet/services/evaluator"
	"github.com/comet-forge/comet/services/knowledge"
	"github.com/comet-forge/comet/services/llm"
	"github.com/comet-forge/comet/services/sandbox"
	"github.com/comet-forge/comet/services/scanner"
	"github.com/comet-forge/comet/services/store"
	"github.com/comet-forge/comet/services/telemetry"
)

// Deps wires the Planner Agent to every other spec.md §2 component. Fields
// are constructed by the caller (cmd/comet, or a test) rather than by the
// Planner itself, matching the corpus's constructor-injection convention
// seen in analyzer.New/builddriver.New taking a *logging.Logger rather
// than reaching for a package-level default.
type Deps struct {
	Scanner  *scanner.Scanner
	Analyzer *analyzer.Bridge // nil disables the external structural-facts pass; the scanner's own facts are used as-is

	Sandboxes *sandbox.Manager
	Build     *builddriver.Bridge
	Eval      *evaluator.Evaluator

	LLM     llm.LLMClient
	Prompts *llm.PromptManager

	Retriever *knowledge.Retriever // nil when knowledge.enabled=false

	Store       *store.Store
	Checkpoints *store.CheckpointJournal

	Logger *logging.Logger
}

// targetState is the Planner's mutable, in-memory view of one Target
// across rounds: its tests, mutants, and latest coverage snapshot, plus
// the scheduling bookkeeping (rounds spent, noop streak, blacklist).
type targetState struct {
	target model.Target

	tests   []model.TestCase
	mutants []model.Mutant

	latestSnapshot        model.CoverageSnapshot
	hasSnapshot           bool
	mutantsGeneratedRound int
	newMutantsSinceEval   bool

	roundsSpent int
	noopRounds  int
	blacklisted bool
}

// Summary is what Run/Resume return: the terminal condition and the
// final per-target quality, for cmd/comet's `report` verb and exit-code
// selection (spec.md §6).
type Summary struct {
	StopReason StopReason
	Rounds     int
	LLMCalls   int
	Targets    []TargetStat
}

// Planner drives spec.md §4.5's preprocessing phase and main round loop.
// Not safe for concurrent use: a single Planner instance owns one run.
type Planner struct {
	cfg  *config.Config
	deps Deps

	formatter *Formatter

	mu      sync.Mutex
	round   int
	budget  model.BudgetCounter
	targets map[model.TargetID]*targetState
	order   []model.TargetID // preserves discovery order for deterministic iteration
}

// New validates deps against cfg (e.g. a Retriever is required when
// knowledge.enabled is true) and returns a ready Planner.
func New(cfg *config.Config, deps Deps) (*Planner, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Scanner == nil || deps.Sandboxes == nil || deps.Build == nil || deps.Eval == nil ||
		deps.LLM == nil || deps.Prompts == nil || deps.Store == nil || deps.Checkpoints == nil {
		return nil, errkind.New("planner.New", errkind.InternalInvariant)
	}
	if cfg.Knowledge.Enabled && deps.Retriever == nil {
		return nil, errkind.New("planner.New", errkind.InternalInvariant)
	}
	return &Planner{
		cfg:       cfg,
		deps:      deps,
		formatter: NewFormatter(cfg.Formatting, deps.Logger),
		targets:   make(map[model.TargetID]*targetState),
	}, nil
}

// Run scans the project, preprocesses every discovered target, and then
// drives the main round loop to a stop condition, from a clean run (no
// prior checkpoint).
func (p *Planner) Run(ctx context.Context) (Summary, error) {
	if _, err := p.deps.Sandboxes.CreateWorkspace(); err != nil {
		return Summary{}, err
	}

	targets, err := p.deps.Scanner.Scan(ctx, p.workspacePath())
	if err != nil {
		return Summary{}, err
	}
	p.deps.Logger.Info("scan complete", "targets_found", len(targets))

	for i := range targets {
		p.addTarget(targets[i])
	}

	if p.cfg.Preprocessing.Enabled {
		if err := p.preprocess(ctx); err != nil {
			return Summary{}, err
		}
	}

	return p.runLoop(ctx)
}

// Resume restores state from the last saved checkpoint and continues the
// main round loop, skipping scan/preprocess entirely (spec.md §4.5, S4).
func (p *Planner) Resume(ctx context.Context) (Summary, error) {
	if _, err := p.deps.Sandboxes.CreateWorkspace(); err != nil {
		return Summary{}, err
	}
	cp, err := p.deps.Checkpoints.Load()
	if err != nil {
		return Summary{}, errkind.Wrap("planner.Resume", errkind.InternalInvariant, err)
	}
	p.restore(cp)
	p.deps.Logger.Info("resumed from checkpoint", "round", p.round, "targets", len(p.targets))
	return p.runLoop(ctx)
}

func (p *Planner) workspacePath() string {
	path, err := p.deps.Sandboxes.Path(sandbox.WorkspaceID)
	if err != nil {
		return ""
	}
	return path
}

func (p *Planner) addTarget(t model.Target) *targetState {
	st, ok := p.targets[t.ID]
	if ok {
		return st
	}
	st = &targetState{target: t}
	p.targets[t.ID] = st
	p.order = append(p.order, t.ID)
	if err := p.deps.Store.SaveTarget(t); err != nil {
		p.deps.Logger.Warn("failed to persist target", "target", t.ID, "error", err)
	}
	return st
}

// preprocess runs analyze -> generate_initial_tests -> generate_initial_mutants
// for every target, bounded to preprocessing.max_workers concurrent
// targets via golang.org/x/sync/errgroup (spec.md §5: independent
// per-target side computations may parallelize; the main loop's
// single-threaded scheduling still runs afterward, serially).
func (p *Planner) preprocess(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Preprocessing.MaxWorkers)

	ids := make([]model.TargetID, len(p.order))
	copy(ids, p.order)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			return p.preprocessOne(gctx, id)
		})
	}
	return g.Wait()
}

func (p *Planner) preprocessOne(ctx context.Context, id model.TargetID) error {
	st := p.stateFor(id)
	if st == nil {
		return nil
	}

	if p.deps.Analyzer != nil {
		targets, err := p.deps.Analyzer.Analyze(ctx, id.ClassFQN, st.target.SourceFile)
		if err != nil {
			p.deps.Logger.Warn("analyzer pass failed, keeping scanner-derived facts", "target", id, "error", err)
		} else {
			for _, t := range targets {
				if t.ID == id {
					p.mu.Lock()
					st.target.Facts = t.Facts
					st.target.Collaborators = t.Collaborators
					if t.Javadoc != "" {
						st.target.Javadoc = t.Javadoc
					}
					p.mu.Unlock()
					_ = p.deps.Store.SaveTarget(st.target)
					break
				}
			}
		}
	}

	if err := p.actionGenerateTests(ctx, st); err != nil {
		p.deps.Logger.Warn("preprocessing: initial test generation failed", "target", id, "error", err)
	}
	if err := p.actionGenerateMutants(ctx, st); err != nil {
		p.deps.Logger.Warn("preprocessing: initial mutant generation failed", "target", id, "error", err)
	}
	return nil
}

func (p *Planner) stateFor(id model.TargetID) *targetState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targets[id]
}

// runLoop is the single-threaded main scheduling loop of spec.md §4.5:
// select a target, choose its action, execute it, update budget/round
// tracking, and check the five stop conditions before the next iteration.
func (p *Planner) runLoop(ctx context.Context) (Summary, error) {
	for {
		select {
		case <-ctx.Done():
			p.checkpoint()
			return p.summary(""), ctx.Err()
		default:
		}

		stats := p.buildStats()
		if reason, stop := CheckStop(p.cfg.Agent, p.budget, stats); stop {
			p.deps.Logger.Info("stopping run", "reason", reason, "round", p.round)
			p.checkpoint()
			return p.summary(reason), nil
		}

		selected, ok := SelectTarget(p.cfg.Agent, stats)
		if !ok {
			p.checkpoint()
			return p.summary(StopNoEligibleTargets), nil
		}

		st := p.stateFor(selected.Target)
		action := ChooseAction(p.cfg.Agent, selected)

		roundCtx, span := telemetry.StartRoundSpan(ctx, p.round)
		roundStart := time.Now()

		before := selected
		if err := p.execute(roundCtx, st, action); err != nil {
			telemetry.EndRoundSpan(roundCtx, span, p.round, time.Since(roundStart), string(action))
			if kind, ok := errkind.KindOf(err); ok && kind.Fatal() {
				p.deps.Logger.Error("fatal error, aborting run", "op", err, "target", selected.Target)
				p.checkpoint()
				return p.summary(""), err
			}
			p.deps.Logger.Warn("action failed, treated as no-op for this round", "target", selected.Target, "action", action, "error", err)
		} else {
			telemetry.EndRoundSpan(roundCtx, span, p.round, time.Since(roundStart), string(action))
		}

		p.round++
		p.budget.RoundsUsed = p.round
		st.roundsSpent++

		after := p.statFor(st)
		if action == ActionAdvance || sameProgress(before, after) {
			st.noopRounds++
		} else {
			st.noopRounds = 0
		}
		if ShouldBlacklist(p.cfg.Agent, after) {
			st.blacklisted = true
			p.deps.Logger.Info("blacklisting target after consecutive no-op rounds", "target", st.target.ID)
		}
		if Improved(p.cfg.Agent.MinImprovementThreshold, before, after) {
			p.budget.LastImprovementRound = p.round
		}

		p.checkpoint()
	}
}

func sameProgress(a, b TargetStat) bool {
	return a.MutationScore == b.MutationScore && a.LineCoverage == b.LineCoverage && a.BranchCoverage == b.BranchCoverage
}

func (p *Planner) execute(ctx context.Context, st *targetState, action Action) error {
	switch action {
	case ActionGenerateTests:
		return p.actionGenerateTests(ctx, st)
	case ActionRefineTests:
		return p.actionRefineTests(ctx, st)
	case ActionGenerateMutants:
		return p.actionGenerateMutants(ctx, st)
	case ActionRunEvaluation:
		return p.actionRunEvaluation(ctx, st)
	case ActionAdvance:
		return nil
	default:
		return errkind.New("planner.execute", errkind.InternalInvariant)
	}
}

func (p *Planner) buildStats() []TargetStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make([]TargetStat, 0, len(p.order))
	for _, id := range p.order {
		st := p.targets[id]
		stats = append(stats, p.statFor(st))
	}
	return stats
}

func (p *Planner) statFor(st *targetState) TargetStat {
	survived := 0
	for _, m := range st.mutants {
		if m.Status == model.MutantSurvived {
			survived++
		}
	}
	return TargetStat{
		Target:                    st.target.ID,
		MutationScore:             evaluator.MutationScore(st.mutants),
		LineCoverage:              st.latestSnapshot.LineCoverage,
		BranchCoverage:            st.latestSnapshot.BranchCoverage,
		HasTests:                  len(st.tests) > 0,
		SurvivingMutants:          survived,
		MutantsGeneratedThisRound: st.mutantsGeneratedRound == p.round,
		NewMutantsSinceEval:       st.newMutantsSinceEval,
		RoundsSpent:               st.roundsSpent,
		NoopRounds:                st.noopRounds,
		Blacklisted:               st.blacklisted,
	}
}

func (p *Planner) summary(reason StopReason) Summary {
	return Summary{
		StopReason: reason,
		Rounds:     p.round,
		LLMCalls:   p.budget.LLMCallsUsed,
		Targets:    p.buildStats(),
	}
}

// checkpoint persists the full run state as one JSON document via the
// Badger-backed CheckpointJournal (spec.md §6, §8 property 6), logging
// but not aborting the run on a write failure: a lost checkpoint costs a
// resume, not the current round's progress.
func (p *Planner) checkpoint() {
	p.mu.Lock()
	cp := store.Checkpoint{
		Round:          p.round,
		Budget:         p.budget,
		MutantStatuses: make(map[model.MutantID]model.MutantStatus),
	}
	for _, id := range p.order {
		st := p.targets[id]
		cp.Targets = append(cp.Targets, st.target)
		cp.ActiveTests = append(cp.ActiveTests, st.tests...)
		cp.CoverageSnapshots = append(cp.CoverageSnapshots, st.latestSnapshot)
		for _, m := range st.mutants {
			cp.MutantStatuses[m.ID] = m.Status
		}
	}
	p.mu.Unlock()

	if err := p.deps.Checkpoints.Save(cp); err != nil {
		p.deps.Logger.Warn("failed to save checkpoint", "round", p.round, "error", err)
	}
}

// restore rebuilds in-memory targetStates from a loaded Checkpoint plus
// whatever the Data Store itself has recorded (the checkpoint is the fast
// resume path; the store is the durable source of truth for mutants and
// evaluation history, per spec.md §2 items 8-9).
func (p *Planner) restore(cp store.Checkpoint) {
	p.round = cp.Round
	p.budget = cp.Budget

	for _, t := range cp.Targets {
		st := p.addTarget(t)
		st.roundsSpent = 0
	}
	for _, tc := range cp.ActiveTests {
		if st, ok := p.targets[tc.Target]; ok {
			st.tests = append(st.tests, tc)
		}
	}
	for _, snap := range cp.CoverageSnapshots {
		if st, ok := p.targets[snap.Target]; ok {
			st.latestSnapshot = snap
			st.hasSnapshot = true
		}
	}

	mutants, err := p.deps.Store.MutantsByStatus(model.MutantPending)
	if err != nil {
		p.deps.Logger.Warn("failed to reload pending mutants from store", "error", err)
	}
	for _, m := range mutants {
		if st, ok := p.targets[m.Target]; ok {
			st.mutants = append(st.mutants, m)
			st.newMutantsSinceEval = true
		}
	}
	for _, terminal := range []model.MutantStatus{model.MutantSurvived, model.MutantKilled} {
		ms, err := p.deps.Store.MutantsByStatus(terminal)
		if err != nil {
			continue
		}
		for _, m := range ms {
			if st, ok := p.targets[m.Target]; ok {
				st.mutants = append(st.mutants, m)
			}
		}
	}
}

// generateStructured concatenates a rendered (system, user) prompt pair
// into the single string llm.LLMClient.Generate expects (the interface
// has no separate system/user split, unlike PromptManager's Render*
// methods, since the default OpenAIClient backend exposes only a
// single-prompt Generate, not a Chat method) and counts the call toward
// the LLM call budget regardless of outcome, matching spec.md §7's
// "planner counters advanced (burning budget)" on a rejected artifact.
func (p *Planner) generateStructured(ctx context.Context, kind, system, user string) (string, error) {
	prompt := fmt.Sprintf("%s\n\n%s", system, user)

	var params llm.GenerationParams
	if p.cfg.LLM.Temperature != 0 {
		t := p.cfg.LLM.Temperature
		params.Temperature = &t
	}

	var out string
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		out, err = p.deps.LLM.Generate(ctx, prompt, params)
		p.mu.Lock()
		p.budget.LLMCallsUsed++
		p.mu.Unlock()
		telemetry.RecordLLMCall(ctx, kind)
		if err == nil {
			return out, nil
		}
		kind, _ := errkind.KindOf(err)
		if !kind.Retryable() {
			return "", err
		}
		backoff := time.Duration(1<<attempt) * time.Second
		p.deps.Logger.Warn("llm call failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", err
}
