// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tmc/langchaingo/prompts"

	"github.com/comet-forge/comet/pkg/errkind"
)

// Role names one of the prompt templates the Planner Agent renders,
// grounded on original_source/comet/llm/prompts.py's PromptManager: each
// Role pairs a fixed system prompt with a Go-template user prompt and a
// JSON response shape the caller validates against.
type Role string

const (
	RoleGenTestsInitial   Role = "gen_tests_initial"
	RoleGenTestsRefine    Role = "gen_tests_refine"
	RoleGenMutantsInitial Role = "gen_mutants_initial"
	RoleGenMutantsRefine  Role = "gen_mutants_refine"
	RoleExtractContract   Role = "extract_contract"
	RoleExtractPattern    Role = "extract_pattern"
	RoleFixTest           Role = "fix_test"
)

// Contract is the template input shape for a method's known contract
// (spec.md §2 item 5's Contract knowledge kind).
type Contract struct {
	MethodName     string
	Preconditions  []string
	Postconditions []string
	Exceptions     []string
}

// PreconditionsJoined, PostconditionsJoined, and ExceptionsJoined let the
// Go-template prompts render comma-joined lists without a custom
// text/template FuncMap.
func (c Contract) PreconditionsJoined() string  { return strings.Join(c.Preconditions, ", ") }
func (c Contract) PostconditionsJoined() string { return strings.Join(c.Postconditions, ", ") }
func (c Contract) ExceptionsJoined() string     { return strings.Join(c.Exceptions, ", ") }

// Pattern is the template input shape for a defect Pattern drawn from the
// Knowledge Base.
type Pattern struct {
	ID          string
	Name        string
	Description string
	Template    string
}

// MutantSummary is the compact view of an existing Mutant a refine-round
// prompt shows the model, so it avoids proposing a duplicate.
type MutantSummary struct {
	SemanticIntent string
	Survived       bool
	MutatedCode    string
}

// TestMethodSummary names one existing test method, shown to avoid
// duplicate coverage.
type TestMethodSummary struct {
	MethodName  string
	Description string
	Code        string
}

// TestCaseSummary is the compact view of an existing TestCase's method set.
type TestCaseSummary struct {
	ClassName string
	Methods   []TestMethodSummary
}

// CoverageGaps names the line/branch coverage a refine round should close.
type CoverageGaps struct {
	CoverageRate    float64
	CoveredLines    int
	TotalLines      int
	UncoveredLines  []int
	UncoveredBranches []string
}

var validate = validator.New()

func mustTemplate(tmpl string, vars ...string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       tmpl,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: vars,
	}
}

// PromptManager renders the fixed set of Roles into (system, user) prompt
// pairs, mirroring PromptManager.render_* in prompts.py one for one. The
// system prompts are plain constants (the originals carry no template
// interpolation); the user prompts are github.com/tmc/langchaingo/prompts
// Go-template PromptTemplates rather than hand-rolled string building,
// since langchaingo is already the corpus's templating library for LLM
// input construction.
type PromptManager struct{}

func NewPromptManager() *PromptManager {
	return &PromptManager{}
}

const extractContractSystem = `You are a Java code analysis expert specializing in extracting contract information (preconditions, postconditions, exception conditions) from code.

Your task is to analyze the given Java method and extract its implicit or explicit contract.

Respond in JSON with the fields: preconditions (list), postconditions (list), exceptions (list).`

var extractContractUser = mustTemplate(`Analyze the following Java method:

Class: {{.ClassName}}
Signature: {{.MethodSignature}}

Source:
` + "```java\n{{.SourceCode}}\n```" + `
{{if .Javadoc}}
Javadoc:
{{.Javadoc}}
{{end}}
Extract this method's contract information.`, "ClassName", "MethodSignature", "SourceCode", "Javadoc")

// RenderExtractContract mirrors render_extract_contract.
func (m *PromptManager) RenderExtractContract(className, methodSignature, sourceCode, javadoc string) (string, string, error) {
	user, err := extractContractUser.Format(map[string]any{
		"ClassName": className, "MethodSignature": methodSignature,
		"SourceCode": sourceCode, "Javadoc": javadoc,
	})
	return extractContractSystem, user, err
}

const extractPatternSystem = `You are a software defect analysis expert specializing in learning defect patterns from bug reports and fix patches.

Your task is to analyze a bug report and its fix, and extract a reusable defect pattern to guide later mutation testing.

Respond in JSON with the fields: name, category (e.g. null_pointer, boundary, concurrency, resource_leak), description, template, examples (list).`

var extractPatternUser = mustTemplate(`Analyze the following bug report:
{{if .BugDescription}}
Bug description:
{{.BugDescription}}
{{end}}{{if .DiffPatch}}
Fix patch (diff):
` + "```diff\n{{.DiffPatch}}\n```" + `
{{end}}{{if .BeforeCode}}
Before:
` + "```java\n{{.BeforeCode}}\n```" + `
{{end}}{{if .AfterCode}}
After:
` + "```java\n{{.AfterCode}}\n```" + `
{{end}}
Extract the defect pattern this bug reflects.`, "BugDescription", "DiffPatch", "BeforeCode", "AfterCode")

// RenderExtractPattern mirrors render_extract_pattern.
func (m *PromptManager) RenderExtractPattern(bugDescription, diffPatch, beforeCode, afterCode string) (string, string, error) {
	user, err := extractPatternUser.Format(map[string]any{
		"BugDescription": bugDescription, "DiffPatch": diffPatch,
		"BeforeCode": beforeCode, "AfterCode": afterCode,
	})
	return extractPatternSystem, user, err
}

const generateMutationSystem = `You are a code mutation expert specializing in generating semantic mutations that expose the gaps in a test suite.

Your task is to analyze the given Java class and, drawing on the supplied defect Patterns and Contracts, propose meaningful mutants.

Mutations should:
1. Target a specific semantic issue, not a trivial syntax change.
2. Be a small, localized edit (a few lines).
3. Compile (class name and method signatures unchanged).
4. Have a clear stated test objective.

You must return a JSON object with a "mutations" key whose value is an array. Each mutation must have: line_start (int), line_end (int), original (string, no line numbers), mutated (string, no line numbers), intent (string), pattern_id (string, optional).

original and mutated must be complete code blocks including all braces; indentation must match the source exactly; line_start/line_end must exactly cover the replaced range.`

var generateMutationUser = mustTemplate(`Generate mutants for the following Java class:

Class: {{.ClassName}}
{{if .TargetMethod}}
Only generate mutants for the ` + "`{{.TargetMethod}}`" + ` method; do not touch other methods.
{{end}}
Source (with line numbers):
` + "```java\n{{.SourceCodeWithLines}}\n```" + `
{{if .Contracts}}
Relevant contracts:
{{range .Contracts}}- {{.MethodName}}:
  preconditions: {{.PreconditionsJoined}}
  postconditions: {{.PostconditionsJoined}}
  exceptions: {{.ExceptionsJoined}}
{{end}}{{end}}{{if .Patterns}}
Available defect patterns:
{{range .Patterns}}- [{{.ID}}] {{.Name}}: {{.Description}}
  template: {{.Template}}
{{end}}{{end}}
Requirements:
1. line_start/line_end must be real source line numbers.
2. original must be the complete code for those lines (may span multiple lines).
3. mutated must be a complete replacement, matching indentation and formatting.
4. Do not change the class name, method signatures, or access modifiers.
5. The mutated code must be syntactically valid and compile.
{{if .TargetMethod}}6. Only generate mutants for the ` + "`{{.TargetMethod}}`" + ` method.
{{end}}
Generate {{.NumMutations}} meaningful mutants.`, "ClassName", "TargetMethod", "SourceCodeWithLines", "Contracts", "Patterns", "NumMutations")

// RenderGenMutantsInitial mirrors render_generate_mutation.
func (m *PromptManager) RenderGenMutantsInitial(className, sourceCodeWithLines string, contracts []Contract, patterns []Pattern, numMutations int, targetMethod string) (string, string, error) {
	if numMutations <= 0 {
		numMutations = 5
	}
	user, err := generateMutationUser.Format(map[string]any{
		"ClassName": className, "TargetMethod": targetMethod,
		"SourceCodeWithLines": sourceCodeWithLines,
		"Contracts": contracts, "Patterns": patterns, "NumMutations": numMutations,
	})
	return generateMutationSystem, user, err
}

const refineMutationSystem = `You are a senior code mutation expert specializing in generating mutants that specifically target the weaknesses of an existing test suite.

Your task is to analyze existing mutants, test code, and the current kill rate, and generate new mutants that are harder for the tests to detect.

Strategy:
1. Study the test code: assertions, boundary checks, exception handling.
2. Identify blind spots: untested boundary values, missed exceptions, special input combinations.
3. Mutate specifically toward those blind spots.

Mutations should target a semantic gap the tests don't cover, be a small localized edit, compile, and represent a realistic defect.

You must return a JSON object with a "mutations" key, in the same shape as gen_mutants_initial: line_start, line_end, original, mutated, intent (explain what test weakness this exploits), pattern_id (optional).`

var refineMutationUser = mustTemplate(`Generate more targeted mutants based on the existing test suite:

Class: {{.ClassName}}
{{if .TargetMethod}}
Target method: only generate mutants for ` + "`{{.TargetMethod}}`" + `.
{{end}}
Source (with line numbers):
` + "```java\n{{.SourceCodeWithLines}}\n```" + `
{{if .TestCases}}
Existing test code:
{{range .TestCases}}Test class: {{.ClassName}}
{{range .Methods}}---
Method: {{.MethodName}}
` + "```java\n{{.Code}}\n```" + `
{{end}}{{end}}{{end}}{{if .ExistingMutants}}
Existing mutants (avoid duplicating):
{{range .ExistingMutants}}- {{.SemanticIntent}}
  status: {{if .Survived}}survived{{else}}killed{{end}}
{{end}}{{end}}
Current kill rate: {{.KillRatePercent}}%
{{if .Contracts}}
Relevant contracts:
{{range .Contracts}}- {{.MethodName}}:
  preconditions: {{.PreconditionsJoined}}
  postconditions: {{.PostconditionsJoined}}
  exceptions: {{.ExceptionsJoined}}
{{end}}{{end}}{{if .Patterns}}
Available defect patterns:
{{range .Patterns}}- [{{.ID}}] {{.Name}}: {{.Description}}
{{end}}{{end}}
Task:
1. Carefully analyze the test code's assertions and verification logic.
2. Find the blind spots (untested boundary values, exceptions, special input combos).
3. Generate {{.NumMutations}} mutants targeting those blind spots.
4. Each mutation's intent must state exactly which test weakness it exploits.

Requirements:
1. line_start/line_end must be real source line numbers.
2. original must be the complete code for those lines.
3. mutated must be a complete replacement, matching indentation and formatting.
4. Do not change the class name, method signatures, or access modifiers.
5. The mutated code must be syntactically valid and compile.
{{if .TargetMethod}}6. Only generate mutants for ` + "`{{.TargetMethod}}`" + `.
{{end}}`, "ClassName", "TargetMethod", "SourceCodeWithLines", "TestCases", "ExistingMutants", "KillRatePercent", "Contracts", "Patterns", "NumMutations")

// RenderGenMutantsRefine mirrors render_refine_mutation.
func (m *PromptManager) RenderGenMutantsRefine(className, sourceCodeWithLines string, existingMutants []MutantSummary, testCases []TestCaseSummary, killRate float64, contracts []Contract, patterns []Pattern, targetMethod string, numMutations int) (string, string, error) {
	if numMutations <= 0 {
		numMutations = 5
	}
	limited := existingMutants
	if len(limited) > 10 {
		limited = limited[:10]
	}
	user, err := refineMutationUser.Format(map[string]any{
		"ClassName": className, "TargetMethod": targetMethod,
		"SourceCodeWithLines": sourceCodeWithLines,
		"TestCases":           testCases,
		"ExistingMutants":     limited,
		"KillRatePercent":     fmt.Sprintf("%.1f", killRate*100),
		"Contracts":           contracts, "Patterns": patterns, "NumMutations": numMutations,
	})
	return refineMutationSystem, user, err
}

const generateTestSystem = `You are a JUnit test expert specializing in generating high-quality test cases for Java code.

Your task is to generate test methods for the given method. You may decide how many test methods to generate, based on the method's complexity and the scenarios it needs to cover.

Tests should:
1. Use JUnit 5 syntax (@Test).
2. Assert behavior directly (assertEquals etc., with no "Assertions." prefix, since the test class uses a static import).
3. Cover normal and boundary cases (positive, negative, zero, boundary values).
4. Test exception handling (assertThrows etc.).
5. Contain only test method code, not a full class definition.
6. Avoid duplicating any existing tests; fill in missing scenarios instead.

Sizing guidance: simple accessors need 1-2 tests, moderate logic needs 3-5, complex multi-branch/multi-exception methods need 5-10.

You must return a JSON object with a "tests" key whose value is an array of {method_name, code, description}.`

var generateTestUser = mustTemplate(`Generate tests for the following method:

Class: {{.ClassName}}
Signature: {{.MethodSignature}}

Full class code:
` + "```java\n{{.ClassCode}}\n```" + `
{{if .Contracts}}
Method contract:
preconditions: {{.Contracts.PreconditionsJoined}}
postconditions: {{.Contracts.PostconditionsJoined}}
exceptions: {{.Contracts.ExceptionsJoined}}
{{end}}{{if .ExistingTests}}
Existing test methods (avoid duplicating, fill missing scenarios):
{{range .ExistingTests}}- {{.ClassName}}: {{len .Methods}} test method(s)
{{range .Methods}}  * {{.MethodName}}: {{.Description}}
{{end}}{{end}}{{end}}{{if .SurvivedMutants}}
The following mutants survived (were not killed by existing tests); pay special attention:
{{range .SurvivedMutants}}- {{.SemanticIntent}}
  mutation: {{.MutatedCode}}
{{end}}{{end}}{{if .HasCoverageGaps}}
Coverage gap analysis:
- current line coverage: {{.CoveragePercent}}%
- covered: {{.CoverageGaps.CoveredLines}}/{{.CoverageGaps.TotalLines}} lines
{{if .CoverageGaps.UncoveredLines}}- uncovered line numbers: {{.UncoveredLinesJoined}}
- focus test generation on these uncovered lines
{{else}}- this method already has 100% line coverage; focus on branch coverage and boundary cases
{{end}}{{end}}
Requirements:
1. Assertions: use assertEquals/assertTrue/assertThrows directly, no "Assertions." prefix.
2. Every test method must start with @Test.
3. Test method names should clearly describe the scenario.
4. Include boundary cases (Integer.MAX_VALUE, Integer.MIN_VALUE, 0, etc.).
5. Use assertThrows for methods that may throw.
6. Decide the test count based on complexity (1-2 for simple, 5-10 for complex).

Generate an appropriate number of test methods.`, "ClassName", "MethodSignature", "ClassCode", "Contracts", "ExistingTests", "SurvivedMutants", "HasCoverageGaps", "CoveragePercent", "CoverageGaps", "UncoveredLinesJoined")

// RenderGenTestsInitial mirrors render_generate_test.
func (m *PromptManager) RenderGenTestsInitial(className, methodSignature, classCode string, contract *Contract, survivedMutants []MutantSummary, gaps *CoverageGaps, existingTests []TestCaseSummary) (string, string, error) {
	values := map[string]any{
		"ClassName": className, "MethodSignature": methodSignature, "ClassCode": classCode,
		"Contracts": contract, "SurvivedMutants": survivedMutants, "ExistingTests": existingTests,
		"HasCoverageGaps": gaps != nil, "CoverageGaps": gaps,
	}
	if gaps != nil {
		values["CoveragePercent"] = fmt.Sprintf("%.1f", gaps.CoverageRate*100)
		values["UncoveredLinesJoined"] = joinInts(gaps.UncoveredLines)
	}
	user, err := generateTestUser.Format(values)
	return generateTestSystem, user, err
}

const refineTestSystem = `You are a JUnit test expert specializing in refining and improving existing test cases.

Your task is to improve existing tests based on evaluation feedback (surviving mutants, coverage gaps, etc). You may improve existing tests, add missing tests, remove redundant tests, or refactor for quality. Prioritize tests that kill surviving mutants.

Use assertEquals/assertTrue/assertThrows directly, with no "Assertions." prefix.

You must return a JSON object with a "refined_tests" key whose value is an array of {method_name, code, description, target_method (optional)}, plus a "refinement_summary" string.`

var refineTestUser = mustTemplate(`Refine the following test case:

Target class: {{.TestCase.ClassName}}
{{if .TargetMethod}}
Target method: {{.TargetMethod}} (focus test improvements here)
{{end}}
Class under test:
` + "```java\n{{.ClassCode}}\n```" + `

Current test methods ({{len .TestCase.Methods}} total):
{{range .TestCase.Methods}}### {{.MethodName}}
` + "```java\n{{.Code}}\n```" + `
{{if .Description}}description: {{.Description}}
{{end}}
{{end}}{{if .SurvivedMutants}}
Surviving mutants (need to be killed):
{{range .SurvivedMutants}}- {{.SemanticIntent}}
  mutation: {{.MutatedCode}}
{{end}}{{end}}{{if .HasCoverageGaps}}
Coverage gaps:
uncovered lines: {{.UncoveredLinesJoined}}
uncovered branches: {{.UncoveredBranchesJoined}}
{{end}}{{if .EvaluationFeedback}}
Evaluation feedback:
{{.EvaluationFeedback}}
{{end}}
Requirements:
1. Analyze the shortcomings of the existing tests.
2. Focus on killing surviving mutants{{if .TargetMethod}} for {{.TargetMethod}}{{end}}.
3. Add missing scenarios (boundary values, exceptions, etc).
4. Improve existing assertions and verification logic.
5. Return the full list of test methods (kept, modified, and new).

Refine these tests.`, "TestCase", "ClassCode", "TargetMethod", "SurvivedMutants", "HasCoverageGaps", "UncoveredLinesJoined", "UncoveredBranchesJoined", "EvaluationFeedback")

// RenderGenTestsRefine mirrors render_refine_test.
func (m *PromptManager) RenderGenTestsRefine(testCase TestCaseSummary, classCode, targetMethod string, survivedMutants []MutantSummary, gaps *CoverageGaps, evaluationFeedback string) (string, string, error) {
	values := map[string]any{
		"TestCase": testCase, "ClassCode": classCode, "TargetMethod": targetMethod,
		"SurvivedMutants": survivedMutants, "HasCoverageGaps": gaps != nil,
		"EvaluationFeedback": evaluationFeedback,
	}
	if gaps != nil {
		values["UncoveredLinesJoined"] = joinInts(gaps.UncoveredLines)
		values["UncoveredBranchesJoined"] = strings.Join(gaps.UncoveredBranches, ", ")
	}
	user, err := refineTestUser.Format(values)
	return refineTestSystem, user, err
}

const fixTestSystem = `You are a Java test code repair expert. Your task is to fix test code based on an error message (a compile error or test run failure).

Strict limits:
1. Only the body of a test method may be modified.
2. Test method names must not change.
3. Nothing outside a test method body may change: imports, class declaration, class fields, @BeforeEach/@AfterEach helpers must stay exactly as they are.

Repair strategy:
1. Compile errors: check syntax, variable definitions, type matches.
2. Assertion failures: check whether the expected value is correct, watch for integer overflow (e.g. Integer.MAX_VALUE + Integer.MIN_VALUE == -1, not 0), and check whether boundary handling matches the method's real behavior. If an assertion is unreasonable, correct the expected value or remove it.
3. Never modify imports, class/package names, or the tested code's behavior just to make a test pass.

You must return a JSON object with a "fixed_code" key (the complete repaired test class) and a "changes" key describing what changed.`

var fixTestUser = mustTemplate(`Fix the following test code's error:

Original test code:
` + "```java\n{{.TestCode}}\n```" + `

Error message:
` + "```\n{{.CompileError}}\n```" + `

Requirements:
1. Locate the specific test method and line the error concerns.
2. For assertion failures: check whether the expected value is reasonable (watch integer overflow and other boundary cases), and fix or remove it.
3. For compile errors: fix syntax, type, or variable-definition problems.
4. Only modify the body of the failing test method(s); do not rename any method.
5. Keep imports, class declaration, and other methods completely unchanged.
6. Return the complete test class source, including unmodified parts.`, "TestCode", "CompileError")

// RenderFixTest mirrors render_fix_test.
func (m *PromptManager) RenderFixTest(testCode, compileError string) (string, string, error) {
	user, err := fixTestUser.Format(map[string]any{"TestCode": testCode, "CompileError": compileError})
	return fixTestSystem, user, err
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

// -----------------------------------------------------------------------
// Structured response shapes, validated with go-playground/validator after
// json.Unmarshal, matching the "must return JSON with key X" contracts
// each *_SYSTEM prompt above states.
// -----------------------------------------------------------------------

type MutationCandidate struct {
	LineStart   int    `json:"line_start" validate:"required"`
	LineEnd     int    `json:"line_end" validate:"required,gtefield=LineStart"`
	Original    string `json:"original" validate:"required"`
	Mutated     string `json:"mutated" validate:"required,nefield=Original"`
	Intent      string `json:"intent" validate:"required"`
	PatternID   string `json:"pattern_id"`
}

type MutationSet struct {
	Mutations []MutationCandidate `json:"mutations" validate:"required,dive"`
}

type TestCandidate struct {
	MethodName   string `json:"method_name" validate:"required"`
	Code         string `json:"code" validate:"required"`
	Description  string `json:"description"`
	TargetMethod string `json:"target_method"`
}

type TestSet struct {
	Tests []TestCandidate `json:"tests" validate:"required,dive"`
}

type RefinedTestSet struct {
	RefinedTests      []TestCandidate `json:"refined_tests" validate:"required,dive"`
	RefinementSummary string          `json:"refinement_summary"`
}

type ContractExtraction struct {
	Preconditions  []string `json:"preconditions"`
	Postconditions []string `json:"postconditions"`
	Exceptions     []string `json:"exceptions"`
}

type PatternExtraction struct {
	Name        string   `json:"name" validate:"required"`
	Category    string   `json:"category" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Template    string   `json:"template"`
	Examples    []string `json:"examples"`
}

type FixTestResult struct {
	FixedCode string `json:"fixed_code" validate:"required"`
	Changes   string `json:"changes"`
}

// ParseResponse unmarshals an LLM's raw text into T and validates its
// struct tags, giving every Role's caller one place to reject a malformed
// or incomplete structured response before it reaches the Planner.
func ParseResponse[T any](raw string) (T, error) {
	var out T
	body := extractJSONObject(raw)
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, errkind.Wrap("llm.ParseResponse", errkind.LLMMalformedResponse, err)
	}
	if err := validate.Struct(out); err != nil {
		return out, errkind.Wrap("llm.ParseResponse", errkind.LLMMalformedResponse, err)
	}
	return out, nil
}

// extractJSONObject strips markdown code fences models routinely wrap
// their JSON in (```json ... ``` or ``` ... ```) before parsing.
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
