package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/internal/model"
)

func TestClassSimpleName(t *testing.T) {
	assert.Equal(t, "Calculator", classSimpleName("com.example.Calculator"))
	assert.Equal(t, "Calculator", classSimpleName("Calculator"))
}

func TestPackageOf(t *testing.T) {
	assert.Equal(t, "com.example", packageOf("com.example.Calculator"))
	assert.Equal(t, "", packageOf("Calculator"))
}

func TestTestFilePathMirrorsMainToTest(t *testing.T) {
	target := model.Target{
		ID:         model.TargetID{ClassFQN: "com.example.Calculator", Method: "divide"},
		SourceFile: "src/main/java/com/example/Calculator.java",
	}
	got := testFilePath(target)
	assert.Equal(t, "src/test/java/com/example/Calculator_divideTest.java", got)
}

func TestStructurallyValidTestMethod(t *testing.T) {
	assert.True(t, structurallyValidTestMethod("@Test\nvoid divide() { assertEquals(1, 1); }"))
	assert.False(t, structurallyValidTestMethod(""))
	assert.False(t, structurallyValidTestMethod("void divide() { }"))
	assert.False(t, structurallyValidTestMethod("@Test\nvoid divide() { "))
	assert.False(t, structurallyValidTestMethod("@Test\nvoid divide() } {"))
}

func TestNewTestFileSourceContainsMarkerAndPackage(t *testing.T) {
	src := newTestFileSource("com.example", "Calculator_divideTest")
	assert.Contains(t, src, "package com.example;")
	assert.Contains(t, src, "public class Calculator_divideTest {")
	assert.Contains(t, src, testFileAppendMarker)
}

func TestNewTestFileSourceOmitsPackageDeclWhenEmpty(t *testing.T) {
	src := newTestFileSource("", "Calculator_divideTest")
	assert.NotContains(t, src, "package ")
}

func TestMergeTestMethodsInsertsBeforeMarkerAndPreservesExisting(t *testing.T) {
	existing := newTestFileSource("com.example", "Calculator_divideTest")
	merged, err := mergeTestMethods(existing, "@Test\nvoid divideByZeroThrows() { }")
	require.NoError(t, err)
	assert.Contains(t, merged, "divideByZeroThrows")
	assert.Contains(t, merged, testFileAppendMarker)

	again, err := mergeTestMethods(merged, "@Test\nvoid divideNegative() { }")
	require.NoError(t, err)
	assert.Contains(t, again, "divideByZeroThrows")
	assert.Contains(t, again, "divideNegative")
}

func TestMergeTestMethodsErrorsWithoutMarker(t *testing.T) {
	_, err := mergeTestMethods("public class Foo {}", "@Test\nvoid x() {}")
	assert.Error(t, err)
}

func TestInferSemanticTag(t *testing.T) {
	assert.Equal(t, model.TagNullCheckRemoved, inferSemanticTag("removes a null check"))
	assert.Equal(t, model.TagOffByOne, inferSemanticTag("introduces an off-by-one error"))
	assert.Equal(t, model.TagReturnValueChanged, inferSemanticTag("changes the return value"))
	assert.Equal(t, model.TagOperatorSwapped, inferSemanticTag("swaps a comparison operator"))
	assert.Equal(t, model.TagExceptionSwallowed, inferSemanticTag("swallows the exception"))
	assert.Equal(t, model.TagOther, inferSemanticTag("does something else entirely"))
}

func TestNumberLinesStartsAtGivenLine(t *testing.T) {
	got := numberLines("a\nb\nc", 10)
	assert.Equal(t, "10: a\n11: b\n12: c\n", got)
}

func TestOldestSurvivorPicksEarliestCreatedRound(t *testing.T) {
	mutants := []model.Mutant{
		{ID: 1, Status: model.MutantSurvived, CreatedRound: 5},
		{ID: 2, Status: model.MutantSurvived, CreatedRound: 2},
		{ID: 3, Status: model.MutantKilled, CreatedRound: 1},
	}
	assert.Equal(t, model.MutantID(2), oldestSurvivor(mutants))
}

func TestOldestSurvivorReturnsZeroWhenNoneSurvived(t *testing.T) {
	mutants := []model.Mutant{{ID: 1, Status: model.MutantKilled}}
	assert.Equal(t, model.MutantID(0), oldestSurvivor(mutants))
}

func TestPendingMutantsFiltersByStatus(t *testing.T) {
	mutants := []model.Mutant{
		{ID: 1, Status: model.MutantPending},
		{ID: 2, Status: model.MutantSurvived},
	}
	got := pendingMutants(mutants)
	require.Len(t, got, 1)
	assert.Equal(t, model.MutantID(1), got[0].ID)
}

func TestContractFromFactsNilWhenNoFacts(t *testing.T) {
	assert.Nil(t, contractFromFacts("divide", model.AnalyzerFacts{}))
}

func TestContractFromFactsCombinesPreconditions(t *testing.T) {
	facts := model.AnalyzerFacts{
		NullChecks:        []string{"arg != null"},
		BoundaryChecks:    []string{"arg > 0"},
		ExceptionHandling: []string{"IllegalArgumentException"},
	}
	c := contractFromFacts("divide", facts)
	require.NotNil(t, c)
	assert.Equal(t, "divide", c.MethodName)
	assert.ElementsMatch(t, []string{"arg != null", "arg > 0"}, c.Preconditions)
	assert.Equal(t, []string{"IllegalArgumentException"}, c.Exceptions)
}

func TestExistingTestSummariesEmptyWhenNoTests(t *testing.T) {
	assert.Nil(t, existingTestSummaries(nil))
}

func TestExistingTestSummariesGroupsUnderSingleClass(t *testing.T) {
	tests := []model.TestCase{
		{TestClassName: "Calculator_divideTest", TestMethodName: "divideByZero", Source: "code-a"},
		{TestClassName: "Calculator_divideTest", TestMethodName: "divideNegative", Source: "code-b"},
	}
	summaries := existingTestSummaries(tests)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Calculator_divideTest", summaries[0].ClassName)
	require.Len(t, summaries[0].Methods, 2)
}

func TestSingleOrEmptyFallsBackToTargetDerivedClassName(t *testing.T) {
	target := model.Target{ID: model.TargetID{ClassFQN: "com.example.Calculator", Method: "divide"}}
	got := existingTestSummaries(nil).singleOrEmpty(target)
	assert.Equal(t, "Calculator_divideTest", got.ClassName)
}
