package builddriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSurefire = `<?xml version="1.0"?>
<testsuite name="CalcTest">
  <testcase classname="CalcTest" name="testDivide"/>
  <testcase classname="CalcTest" name="testDivideByZero">
    <failure message="expected exception"/>
  </testcase>
</testsuite>`

func TestParseTestReport(t *testing.T) {
	results, err := ParseTestReport([]byte(sampleSurefire))
	require.NoError(t, err)
	assert.True(t, results["CalcTest#testDivide"])
	assert.False(t, results["CalcTest#testDivideByZero"])
}

const sampleJacoco = `<?xml version="1.0"?>
<report name="Calc">
  <counter type="INSTRUCTION" missed="1" covered="9"/>
  <counter type="LINE" missed="2" covered="8"/>
  <counter type="BRANCH" missed="1" covered="3"/>
</report>`

func TestParseCoverageReport(t *testing.T) {
	cov, err := ParseCoverageReport([]byte(sampleJacoco))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cov.LineCoverage, 0.001)
	assert.InDelta(t, 0.75, cov.BranchCoverage, 0.001)
}

func TestParseTestReportDirMissing(t *testing.T) {
	results, err := ParseTestReportDir("/nonexistent/path/xyz")
	require.NoError(t, err)
	assert.Empty(t, results)
}
