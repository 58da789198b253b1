// Package analyzer implements the Analyzer Bridge (spec.md §2 item 2): it
// invokes the external structural analyzer as a subprocess and parses its
// JSON output into per-method AnalyzerFacts.
//
// spec.md §1 places the analyzer itself out of scope ("the source-code
// parser/analyzer (exposes method enumeration and structural facts as
// JSON)"); this package is the in-scope bridge that shells out to it,
// grounded on services/trace/tdg/runner.go's exec.CommandContext +
// output-capping pattern, generalized from a test-runner invocation to a
// one-shot analyze invocation.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/pkg/logging"
)

// Config locates the external analyzer binary and its invocation shape.
type Config struct {
	// Binary is the analyzer executable, found via PATH lookup or an
	// absolute path from configuration (spec.md §4.3's "environment
	// variable, PATH lookup, version query" pattern applies equally here).
	Binary  string
	Timeout time.Duration
	// ExtraArgs are appended after the source file argument, letting an
	// operator pass analyzer-specific flags without a code change.
	ExtraArgs []string
}

func DefaultConfig() Config {
	return Config{Binary: "comet-analyzer", Timeout: 30 * time.Second}
}

// analyzerOutput is the wire shape the external analyzer emits: one
// record per public method found in the file.
type analyzerOutput struct {
	Methods []methodFacts `json:"methods"`
}

type methodFacts struct {
	Name                 string   `json:"name"`
	Signature            string   `json:"signature"`
	Javadoc              string   `json:"javadoc"`
	LineStart            int      `json:"line_start"`
	LineEnd              int      `json:"line_end"`
	NullChecks           []string `json:"null_checks"`
	BoundaryChecks       []string `json:"boundary_checks"`
	ExceptionHandling    []string `json:"exception_handling"`
	MethodCalls          []string `json:"method_calls"`
	CyclomaticComplexity int      `json:"cyclomatic_complexity"`
	Collaborators        []string `json:"collaborators"`
}

// Bridge invokes the external analyzer.
type Bridge struct {
	cfg    Config
	path   string
	logger *logging.Logger
}

// New locates cfg.Binary; failure to locate is fatal at construction time,
// matching the Build Driver Bridge's own startup contract.
func New(cfg Config, logger *logging.Logger) (*Bridge, error) {
	if logger == nil {
		logger = logging.Default()
	}
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, errkind.Wrap("analyzer.New", errkind.ExternalToolMissing, err)
	}
	return &Bridge{cfg: cfg, path: path, logger: logger}, nil
}

// Analyze runs the analyzer against sourceFile and returns one Target per
// public method it reports, with SourceFile/LineStart/LineEnd/Signature/
// Javadoc/Facts/Collaborators populated. classFQN is supplied by the
// caller (the Project Scanner already knows it from the file's package
// declaration and path).
func (b *Bridge) Analyze(ctx context.Context, classFQN, sourceFile string) ([]model.Target, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	args := append([]string{sourceFile}, b.cfg.ExtraArgs...)
	cmd := exec.CommandContext(ctx, b.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Debug("invoking analyzer", "file", sourceFile)
	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errkind.New("analyzer.Analyze", errkind.Timeout)
	}
	if err != nil {
		return nil, errkind.Wrap("analyzer.Analyze", errkind.AnalyzerParseFailed, err)
	}

	var out analyzerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errkind.Wrap("analyzer.Analyze", errkind.AnalyzerParseFailed, err)
	}

	targets := make([]model.Target, 0, len(out.Methods))
	for _, m := range out.Methods {
		targets = append(targets, model.Target{
			ID: model.TargetID{
				ClassFQN:   classFQN,
				Method:     m.Name,
				ParamTypes: paramTypesFromSignature(m.Signature),
			},
			SourceFile:    sourceFile,
			LineStart:     m.LineStart,
			LineEnd:       m.LineEnd,
			Signature:     m.Signature,
			Javadoc:       m.Javadoc,
			Collaborators: m.Collaborators,
			Facts: model.AnalyzerFacts{
				NullChecks:            m.NullChecks,
				BoundaryChecks:        m.BoundaryChecks,
				ExceptionHandling:     m.ExceptionHandling,
				MethodCalls:           m.MethodCalls,
				CyclomaticComplexity:  m.CyclomaticComplexity,
			},
		})
	}
	return targets, nil
}

// paramTypesFromSignature extracts a comma-joined parameter-type string
// from a "name(Type1, Type2)" signature, tolerating analyzers that already
// hand back just the parenthesized part.
func paramTypesFromSignature(sig string) string {
	start := -1
	for i, r := range sig {
		if r == '(' {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := len(sig)
	for i := len(sig) - 1; i >= start; i-- {
		if sig[i] == ')' {
			end = i
			break
		}
	}
	return sig[start:end]
}
