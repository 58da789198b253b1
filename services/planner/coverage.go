package planner

import (
	"encoding/xml"
	"os"
	"strings"

	"github.com/comet-forge/comet/pkg/errkind"
)

// jacocoReport is the small slice of JaCoCo's XML report schema the
// Planner needs: per-class, per-method LINE/BRANCH counters. spec.md
// names no dedicated coverage-report component, so the Planner reads the
// Build Driver Bridge's reported CoveragePath itself, the way
// original_source/comet/executor/mutation_evaluator.py parses the JaCoCo
// report directly rather than through a separate service.
type jacocoReport struct {
	Packages []jacocoPackage `xml:"package"`
}

type jacocoPackage struct {
	Classes []jacocoClass `xml:"class"`
}

type jacocoClass struct {
	Name     string         `xml:"name,attr"`
	Methods  []jacocoMethod `xml:"method"`
}

type jacocoMethod struct {
	Name     string          `xml:"name,attr"`
	Counters []jacocoCounter `xml:"counter"`
}

type jacocoCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

func (c jacocoCounter) ratio() float64 {
	total := c.Missed + c.Covered
	if total == 0 {
		return 0
	}
	return float64(c.Covered) / float64(total)
}

// coverageResult is the pair of ratios (in [0,1]) the Planner tracks per
// target per round.
type coverageResult struct {
	line   float64
	branch float64
}

// parseJacocoForMethod extracts line/branch coverage for one class+method
// pair from a JaCoCo XML report. A method absent from the report (never
// executed) yields a zero coverageResult rather than an error.
func parseJacocoForMethod(path, classFQN, method string) (coverageResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return coverageResult{}, errkind.Wrap("planner.parseJacocoForMethod", errkind.SandboxIO, err)
	}
	var report jacocoReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return coverageResult{}, errkind.Wrap("planner.parseJacocoForMethod", errkind.AnalyzerParseFailed, err)
	}
	internalName := jacocoInternalClassName(classFQN)
	for _, pkg := range report.Packages {
		for _, cls := range pkg.Classes {
			if cls.Name != internalName {
				continue
			}
			for _, m := range cls.Methods {
				if m.Name != method {
					continue
				}
				var res coverageResult
				for _, c := range m.Counters {
					switch c.Type {
					case "LINE":
						res.line = c.ratio()
					case "BRANCH":
						res.branch = c.ratio()
					}
				}
				return res, nil
			}
		}
	}
	return coverageResult{}, nil
}

// jacocoInternalClassName converts a dotted FQN to JaCoCo's slash
// separated internal class name, e.g. "com.example.Calculator" ->
// "com/example/Calculator".
func jacocoInternalClassName(fqn string) string {
	return strings.ReplaceAll(fqn, ".", "/")
}
