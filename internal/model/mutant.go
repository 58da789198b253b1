package model

import "time"

// MutantStatus is the state-machine position of a Mutant (spec.md §3):
// pending -> valid|invalid -> (evaluated) survived|killed, plus the two
// evaluation-failure terminal states evaluation_error and unknown.
type MutantStatus string

const (
	MutantPending          MutantStatus = "pending"
	MutantValid            MutantStatus = "valid"
	MutantInvalid          MutantStatus = "invalid"
	MutantSurvived         MutantStatus = "survived"
	MutantKilled           MutantStatus = "killed"
	MutantEvaluationError  MutantStatus = "evaluation_error"
	MutantUnknown          MutantStatus = "unknown"
)

// Terminal reports whether the mutant's classification is final for the
// current test set (survived and killed are the two classifying outcomes
// counted in the mutation score; the two error states are terminal too but
// excluded from the score's denominator).
func (s MutantStatus) Terminal() bool {
	switch s {
	case MutantSurvived, MutantKilled, MutantEvaluationError, MutantUnknown:
		return true
	default:
		return false
	}
}

// CountsTowardScore reports whether s is included in the mutation-score
// denominator (killed + survived), excluding invalid, evaluation_error,
// and unknown per spec.md §4.4 step 3.
func (s MutantStatus) CountsTowardScore() bool {
	return s == MutantSurvived || s == MutantKilled
}

// SemanticTag names the class of fault a Mutant encodes.
type SemanticTag string

const (
	TagNullCheckRemoved   SemanticTag = "null_check_removed"
	TagBoundaryFlipped    SemanticTag = "boundary_flipped"
	TagReturnValueChanged SemanticTag = "return_value_changed"
	TagOperatorSwapped    SemanticTag = "operator_swapped"
	TagExceptionSwallowed SemanticTag = "exception_swallowed"
	TagOffByOne           SemanticTag = "off_by_one"
	TagOther              SemanticTag = "other"
)

// Patch is the bit-exact line-range replacement a Mutant (or a generated
// test's write-back) applies to a file. Fields match the wire format
// spec.md §6 mandates between planner and sandbox: exactly
// {file_path, line_start, line_end, original, mutated}, 1-based inclusive.
type Patch struct {
	FilePath     string `json:"file_path"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	OriginalCode string `json:"original"`
	MutatedCode  string `json:"mutated"`
}

// Valid checks the two patch invariants spec.md §3 states independent of
// any Target: line_start <= line_end, and mutated != original.
func (p Patch) Valid() bool {
	return p.LineStart <= p.LineEnd && p.MutatedCode != p.OriginalCode
}

// MutantID is a monotonic integer, unique per run, per spec.md §3's
// explicit identity rule.
type MutantID int64

// Mutant is a single proposed semantic fault against a Target.
type Mutant struct {
	ID MutantID

	Target TargetID

	Patch          Patch
	SemanticIntent string
	SemanticTag    SemanticTag
	PatternID      string // knowledge-base Pattern this mutant drew on, if any

	Status      MutantStatus
	KilledBy    []TestID
	CompileError string

	CreatedRound int
	EvaluatedAt  time.Time
}

// EvaluationOutcome is a single test's pass/fail/error result against one
// mutant application (spec.md §3 "Evaluation Run").
type EvaluationOutcome string

const (
	OutcomePass  EvaluationOutcome = "pass"
	OutcomeFail  EvaluationOutcome = "fail"
	OutcomeError EvaluationOutcome = "error"
)

// EvaluationRun is the append-only record of one mutant evaluation.
type EvaluationRun struct {
	ID       string
	MutantID MutantID
	Target   TargetID

	TestOutcomes map[TestID]EvaluationOutcome
	WallTime     time.Duration
	ExitCode     int

	Timestamp time.Time
}
