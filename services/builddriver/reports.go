// Report parsing kept separate from process invocation so it is
// unit-testable without a real build tool on PATH, per SPEC_FULL.md's
// supplemented-feature note grounded on
// original_source/comet/executor/{surefire_parser,coverage_parser}.py.
package builddriver

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/comet-forge/comet/pkg/errkind"
)

// surefireSuite is the minimal subset of a JUnit/Surefire XML report this
// system needs: which test methods ran and whether each passed.
type surefireSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	TestCases []surefireCase  `xml:"testcase"`
}

type surefireCase struct {
	ClassName string          `xml:"classname,attr"`
	Name      string          `xml:"name,attr"`
	Failure   *struct{}       `xml:"failure"`
	Error     *struct{}       `xml:"error"`
}

// ParseTestReport parses a single surefire-style XML report, returning a
// map of "{ClassName}#{methodName}" to pass/fail.
func ParseTestReport(data []byte) (map[string]bool, error) {
	var suite surefireSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, errkind.Wrap("builddriver.ParseTestReport", errkind.BuildFailed, err)
	}
	out := make(map[string]bool, len(suite.TestCases))
	for _, tc := range suite.TestCases {
		key := tc.ClassName + "#" + tc.Name
		out[key] = tc.Failure == nil && tc.Error == nil
	}
	return out, nil
}

// ParseTestReportDir parses every *.xml report in dir and merges the
// per-test results. Missing directory is not an error: the caller may be
// calling before any report exists (e.g. compile-only run).
func ParseTestReportDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, errkind.Wrap("builddriver.ParseTestReportDir", errkind.SandboxIO, err)
	}
	merged := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".xml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		results, err := ParseTestReport(data)
		if err != nil {
			continue
		}
		for k, v := range results {
			merged[k] = v
		}
	}
	return merged, nil
}

// jacocoReport is the minimal subset of a JaCoCo XML coverage report this
// system needs: line and branch counters at the report level.
type jacocoReport struct {
	XMLName  xml.Name        `xml:"report"`
	Counters []jacocoCounter `xml:"counter"`
}

type jacocoCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

// CoverageResult is the parsed line/branch coverage ratio for one report.
type CoverageResult struct {
	LineCoverage   float64
	BranchCoverage float64
}

// ParseCoverageReport parses a JaCoCo-style XML coverage report.
func ParseCoverageReport(data []byte) (CoverageResult, error) {
	var report jacocoReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return CoverageResult{}, errkind.Wrap("builddriver.ParseCoverageReport", errkind.BuildFailed, err)
	}
	var result CoverageResult
	for _, c := range report.Counters {
		total := c.Missed + c.Covered
		if total == 0 {
			continue
		}
		ratio := float64(c.Covered) / float64(total)
		switch c.Type {
		case "LINE":
			result.LineCoverage = ratio
		case "BRANCH":
			result.BranchCoverage = ratio
		}
	}
	return result, nil
}

// ParseCoverageFile reads and parses the coverage report at path.
func ParseCoverageFile(path string) (CoverageResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CoverageResult{}, errkind.Wrap("builddriver.ParseCoverageFile", errkind.SandboxIO, err)
	}
	return ParseCoverageReport(data)
}
