package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderExtractContractIncludesJavadocOnlyWhenPresent(t *testing.T) {
	pm := NewPromptManager()

	_, userWithout, err := pm.RenderExtractContract("Calculator", "int divide(int,int)", "return a/b;", "")
	require.NoError(t, err)
	assert.NotContains(t, userWithout, "Javadoc:")

	_, userWith, err := pm.RenderExtractContract("Calculator", "int divide(int,int)", "return a/b;", "Divides two ints.")
	require.NoError(t, err)
	assert.Contains(t, userWith, "Javadoc:")
	assert.Contains(t, userWith, "Divides two ints.")
}

func TestRenderGenMutantsInitialListsContractsAndPatterns(t *testing.T) {
	pm := NewPromptManager()
	system, user, err := pm.RenderGenMutantsInitial(
		"Calculator",
		"1: public int divide(int a, int b) {\n2:   return a / b;\n3: }",
		[]Contract{{MethodName: "divide", Preconditions: []string{"b != 0"}, Exceptions: []string{"ArithmeticException"}}},
		[]Pattern{{ID: "p1", Name: "boundary", Description: "off by one"}},
		3,
		"divide",
	)
	require.NoError(t, err)
	assert.Contains(t, system, "mutations")
	assert.Contains(t, user, "divide")
	assert.Contains(t, user, "b != 0")
	assert.Contains(t, user, "off by one")
	assert.Contains(t, user, "Generate 3 meaningful mutants")
}

func TestRenderGenMutantsRefineCapsExistingMutantsAtTen(t *testing.T) {
	pm := NewPromptManager()
	mutants := make([]MutantSummary, 15)
	for i := range mutants {
		mutants[i] = MutantSummary{SemanticIntent: "intent", Survived: i%2 == 0}
	}
	_, user, err := pm.RenderGenMutantsRefine("Calculator", "src", mutants, nil, 0.5, nil, nil, "", 0)
	require.NoError(t, err)
	assert.Contains(t, user, "Current kill rate: 50.0%")
	assert.Equal(t, 10, strings.Count(user, "- intent\n"))
}

func TestRenderGenTestsInitialFlagsFullCoverage(t *testing.T) {
	pm := NewPromptManager()
	_, user, err := pm.RenderGenTestsInitial("Calculator", "int divide(int,int)", "class Calculator {}", nil, nil,
		&CoverageGaps{CoverageRate: 1.0, CoveredLines: 10, TotalLines: 10}, nil)
	require.NoError(t, err)
	assert.Contains(t, user, "100% line coverage")
}

func TestRenderGenTestsInitialListsUncoveredLines(t *testing.T) {
	pm := NewPromptManager()
	_, user, err := pm.RenderGenTestsInitial("Calculator", "int divide(int,int)", "class Calculator {}", nil, nil,
		&CoverageGaps{CoverageRate: 0.5, CoveredLines: 5, TotalLines: 10, UncoveredLines: []int{7, 8, 9}}, nil)
	require.NoError(t, err)
	assert.Contains(t, user, "uncovered line numbers: 7, 8, 9")
}

func TestRenderFixTestIncludesErrorMessage(t *testing.T) {
	pm := NewPromptManager()
	_, user, err := pm.RenderFixTest("class CalculatorTest {}", "expected:<5> but was:<6>")
	require.NoError(t, err)
	assert.Contains(t, user, "expected:<5> but was:<6>")
}

func TestParseResponseStripsMarkdownFenceAndValidates(t *testing.T) {
	raw := "```json\n{\"mutations\":[{\"line_start\":1,\"line_end\":2,\"original\":\"a\",\"mutated\":\"b\",\"intent\":\"x\"}]}\n```"
	set, err := ParseResponse[MutationSet](raw)
	require.NoError(t, err)
	require.Len(t, set.Mutations, 1)
	assert.Equal(t, "x", set.Mutations[0].Intent)
}

func TestParseResponseRejectsMutationWithNoChange(t *testing.T) {
	raw := `{"mutations":[{"line_start":1,"line_end":2,"original":"a","mutated":"a","intent":"x"}]}`
	_, err := ParseResponse[MutationSet](raw)
	assert.Error(t, err)
}

func TestParseResponseRejectsMissingRequiredField(t *testing.T) {
	raw := `{"tests":[{"code":"@Test void t(){}"}]}`
	_, err := ParseResponse[TestSet](raw)
	assert.Error(t, err)
}
