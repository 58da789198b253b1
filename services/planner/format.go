package planner

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/logging"
)

// Formatter runs an external Java source formatter over generated test
// code before it is merged into the workspace (spec.md §4.5 write-back
// step "formatted by the Formatter"). spec.md's §2 component list names
// no dedicated Formatter service, so this is a small planner-owned helper
// grounded on analyzer.Bridge's exec.LookPath-at-construction pattern.
// Unlike the Analyzer Bridge and Build Driver Bridge, a missing formatter
// binary is not a fatal startup error: spec.md requires *a* formatting
// step, not this specific tool, so Format degrades to a no-op instead of
// aborting the run over a cosmetic dependency.
type Formatter struct {
	path   string // empty when the binary could not be located
	style  string
	logger *logging.Logger
}

// NewFormatter locates google-java-format on PATH, matching the
// formatting.style config knob ("GOOGLE" | "AOSP") to its --aosp flag.
func NewFormatter(cfg config.FormattingConfig, logger *logging.Logger) *Formatter {
	if logger == nil {
		logger = logging.Default()
	}
	path, err := exec.LookPath("google-java-format")
	if err != nil {
		logger.Warn("formatter binary not found, generated tests will be merged unformatted", "binary", "google-java-format")
		return &Formatter{style: cfg.Style, logger: logger}
	}
	return &Formatter{path: path, style: cfg.Style, logger: logger}
}

// Format runs the formatter over source and returns its formatted output.
// If no formatter binary was located, or the invocation itself fails,
// Format returns source unchanged and a nil error: formatting failure is
// cosmetic, never a reason to reject an otherwise-valid generated test.
func (f *Formatter) Format(ctx context.Context, source string) (string, error) {
	if f.path == "" {
		return source, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	args := []string{"-"}
	if f.style == "AOSP" {
		args = append([]string{"--aosp"}, args...)
	}
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdin = bytes.NewBufferString(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		f.logger.Warn("formatter invocation failed, keeping source unformatted", "error", err, "stderr", stderr.String())
		return source, nil
	}
	return stdout.String(), nil
}
