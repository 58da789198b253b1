package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJacocoXML = `<?xml version="1.0" encoding="UTF-8"?>
<report name="comet">
  <package name="com/example">
    <class name="com/example/Calculator">
      <method name="divide" line="10">
        <counter type="INSTRUCTION" missed="0" covered="8"/>
        <counter type="LINE" missed="1" covered="3"/>
        <counter type="BRANCH" missed="1" covered="1"/>
      </method>
    </class>
  </package>
</report>`

func writeTempJacocoReport(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jacoco.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseJacocoForMethodExtractsLineAndBranchRatios(t *testing.T) {
	path := writeTempJacocoReport(t, sampleJacocoXML)
	res, err := parseJacocoForMethod(path, "com.example.Calculator", "divide")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.line, 1e-9)
	assert.InDelta(t, 0.5, res.branch, 1e-9)
}

func TestParseJacocoForMethodReturnsZeroWhenMethodAbsent(t *testing.T) {
	path := writeTempJacocoReport(t, sampleJacocoXML)
	res, err := parseJacocoForMethod(path, "com.example.Calculator", "multiply")
	require.NoError(t, err)
	assert.Equal(t, coverageResult{}, res)
}

func TestParseJacocoForMethodReturnsZeroWhenClassAbsent(t *testing.T) {
	path := writeTempJacocoReport(t, sampleJacocoXML)
	res, err := parseJacocoForMethod(path, "com.example.Other", "divide")
	require.NoError(t, err)
	assert.Equal(t, coverageResult{}, res)
}

func TestParseJacocoForMethodErrorsOnMissingFile(t *testing.T) {
	_, err := parseJacocoForMethod(filepath.Join(t.TempDir(), "missing.xml"), "com.example.Calculator", "divide")
	assert.Error(t, err)
}

func TestJacocoInternalClassName(t *testing.T) {
	assert.Equal(t, "com/example/Calculator", jacocoInternalClassName("com.example.Calculator"))
	assert.Equal(t, "Calculator", jacocoInternalClassName("Calculator"))
}

func TestCounterRatioZeroWhenNothingScored(t *testing.T) {
	c := jacocoCounter{Type: "LINE", Missed: 0, Covered: 0}
	assert.Equal(t, 0.0, c.ratio())
}
