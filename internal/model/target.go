// Package model holds the entities of the DATA MODEL: Target, Test Case,
// Mutant, Evaluation Run, Coverage Snapshot, and Budget Counter, plus the
// small value types shared across scanner, knowledge, sandbox, builddriver,
// evaluator, store, and planner.
package model

import "fmt"

// TargetID is the stable identifier of a candidate method: its class,
// method name, and parameter types. TargetID values are comparable and
// usable as map keys, matching the "canonical {class_fqn, method_name,
// param_types[]}" identity spec.md assigns to Target.
type TargetID struct {
	ClassFQN   string
	Method     string
	ParamTypes string // joined, order-preserving signature key (e.g. "int,int")
}

// String renders a TargetID the way log lines and CLI reports address a
// target: "pkg.Class#method(paramTypes)".
func (t TargetID) String() string {
	return fmt.Sprintf("%s#%s(%s)", t.ClassFQN, t.Method, t.ParamTypes)
}

// Target is a single public method managed across the run: identity is
// immutable once analyzed, and a Target is never deleted (spec.md §3).
type Target struct {
	ID TargetID

	SourceFile string
	LineStart  int
	LineEnd    int
	Signature  string
	Javadoc    string

	// Collaborators is the ordered set of types the Analyzer Bridge
	// determined must be mocked to exercise this method in isolation.
	Collaborators []string

	// Facts is the structural analysis the Analyzer Bridge returned:
	// null checks, boundary checks, exception handling, method calls,
	// cyclomatic complexity, and any other control-flow facts it reports.
	Facts AnalyzerFacts

	// CreatedRound is the round at which the target was first scanned.
	CreatedRound int
}

// AnalyzerFacts is the structural information the external analyzer
// reports per method (spec.md §2 item 2).
type AnalyzerFacts struct {
	NullChecks         []string
	BoundaryChecks     []string
	ExceptionHandling  []string
	MethodCalls        []string
	CyclomaticComplexity int
}

// InLineRange reports whether [start, end] both lie within the Target's
// declared source line range, the bound patch application and mutant
// generation must respect (spec.md §3, §4.4).
func (t *Target) InLineRange(start, end int) bool {
	return start >= t.LineStart && end <= t.LineEnd && start <= end
}
