// Package builddriver implements the Build Driver Bridge (spec.md §4.3):
// four operations — compile, compile_tests, run_tests, run_tests_with_coverage —
// abstracting the external build tool the target project uses.
//
// The subprocess-execution shape (context timeout, output-size capping,
// exit-code classification) is grounded on
// services/trace/tdg/runner.go's TestRunner.execute/limitedWriter. The set
// of four operations and their semantics are grounded on
// original_source/comet/executor/java_executor.py.
package builddriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/pkg/logging"
)

// Result is the structured record every bridge operation returns
// (spec.md §4.3: "{success: bool, exit_code: int, stdout: str, error?: str}").
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Error    string

	// CoveragePath is set only by RunTestsWithCoverage: the path to the
	// coverage report the build tool produced.
	CoveragePath string

	// PerTest holds individual test outcomes when the report parser can
	// extract them (RunTests fills it from TestReportDir via
	// ParseTestReportDir; the other operations leave it nil).
	PerTest map[string]bool
}

// Config locates the build tool and bounds its invocations.
type Config struct {
	// Tool is the executable name or path ("mvn", "gradle", ...).
	Tool string
	// Home generalizes the original's maven_home: an optional install root
	// exported as an environment variable the tool expects (e.g. MAVEN_HOME).
	Home string
	// HomeEnvVar names the environment variable Home is exported under.
	HomeEnvVar string

	CompileTimeout time.Duration
	TestTimeout    time.Duration
	CoverageTimeout time.Duration

	MaxOutputBytes int

	// CoverageReportGlob locates the coverage report file relative to the
	// project after a coverage run (build-tool specific, e.g.
	// "target/site/jacoco/jacoco.xml").
	CoverageReportGlob string
	// TestReportDir locates surefire/junit-style XML reports for parsing.
	TestReportDir string
}

// DefaultConfig fills in the values spec.md leaves as installation
// details, matching the original's Maven-oriented defaults.
func DefaultConfig() Config {
	return Config{
		Tool:                "mvn",
		HomeEnvVar:          "MAVEN_HOME",
		CompileTimeout:      3 * time.Minute,
		TestTimeout:         5 * time.Minute,
		CoverageTimeout:     8 * time.Minute,
		MaxOutputBytes:      256 * 1024,
		CoverageReportGlob:  "target/site/jacoco/jacoco.xml",
		TestReportDir:       "target/surefire-reports",
	}
}

// Bridge drives the build tool located at construction time. Locating the
// tool is done eagerly: spec.md §4.3 states "failure to locate is a fatal
// startup error."
type Bridge struct {
	cfg    Config
	path   string
	logger *logging.Logger
}

// New locates cfg.Tool on PATH and returns a ready Bridge, or a fatal
// external_tool_missing error. cfg.Home is not checked here.
func New(cfg Config, logger *logging.Logger) (*Bridge, error) {
	if logger == nil {
		logger = logging.Default()
	}
	path, err := exec.LookPath(cfg.Tool)
	if err != nil {
		return nil, errkind.Wrap("builddriver.New", errkind.ExternalToolMissing, err)
	}
	return &Bridge{cfg: cfg, path: path, logger: logger}, nil
}

// Compile builds production sources only.
func (b *Bridge) Compile(ctx context.Context, projectPath string) (*Result, error) {
	return b.run(ctx, projectPath, b.cfg.CompileTimeout, "compile")
}

// CompileTests builds the test sources.
func (b *Bridge) CompileTests(ctx context.Context, projectPath string) (*Result, error) {
	return b.run(ctx, projectPath, b.cfg.CompileTimeout, "test-compile")
}

// RunTests runs the test phase and returns per-test results parsed from
// the build tool's surefire/junit-style reports.
func (b *Bridge) RunTests(ctx context.Context, projectPath string) (*Result, error) {
	res, err := b.run(ctx, projectPath, b.cfg.TestTimeout, "test")
	if res != nil && b.cfg.TestReportDir != "" {
		if perTest, perr := ParseTestReportDir(fmt.Sprintf("%s/%s", projectPath, b.cfg.TestReportDir)); perr == nil {
			res.PerTest = perTest
		}
	}
	return res, err
}

// RunTestsWithCoverage runs the test phase under coverage instrumentation
// and reports the path to the resulting coverage file.
func (b *Bridge) RunTestsWithCoverage(ctx context.Context, projectPath string) (*Result, error) {
	res, err := b.run(ctx, projectPath, b.cfg.CoverageTimeout, "verify")
	if res != nil {
		res.CoveragePath = fmt.Sprintf("%s/%s", projectPath, b.cfg.CoverageReportGlob)
	}
	return res, err
}

func (b *Bridge) run(ctx context.Context, projectPath string, timeout time.Duration, goal string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.path, goal, "-q", "-B")
	cmd.Dir = projectPath
	if b.cfg.Home != "" && b.cfg.HomeEnvVar != "" {
		cmd.Env = append(os.Environ(), b.cfg.HomeEnvVar+"="+b.cfg.Home)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: b.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: b.cfg.MaxOutputBytes}

	b.logger.Debug("builddriver invoking", "goal", goal, "dir", projectPath)
	err := cmd.Run()

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.ExitCode = -1
		result.Error = "timeout"
		return result, errkind.New("builddriver.run", errkind.Timeout)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Success = false
			result.Error = err.Error()
			return result, nil
		}
		return nil, errkind.Wrap("builddriver.run", errkind.SandboxIO, err)
	}

	result.Success = true
	result.ExitCode = 0
	return result, nil
}

// limitedWriter caps captured output the same way
// services/trace/tdg/runner.go's limitedWriter does, so a runaway build
// tool cannot exhaust memory.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}
	total := len(p)
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return total, err
}
