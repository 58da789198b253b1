// Package sandbox implements the Sandbox Manager (spec.md §4.2): a
// persistent workspace sandbox holding the evolving test suite, and
// ephemeral per-mutant target sandboxes created and destroyed around a
// single mutation evaluation.
//
// The copy-with-ignore-patterns strategy is grounded on
// original_source/comet/utils/sandbox.py's SandboxManager; the atomic
// write and backup/rollback bookkeeping follows
// services/trace/tdg/files.go's FileManager.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/pkg/logging"
)

// WorkspaceID is the fixed name of the persistent sandbox, matching the
// original implementation's sandbox_id="workspace" convention.
const WorkspaceID = "workspace"

// defaultIgnore mirrors sandbox.py's copytree ignore patterns, generalized
// beyond Java build artifacts to the common VCS/IDE/build-output noise
// every target project variant in this pack's examples excludes.
var defaultIgnore = []string{
	"target", "build", "dist", "node_modules",
	".git", ".idea", ".vscode",
	"*.class", "*.pyc", "__pycache__",
}

// Manager creates and tears down sandboxes rooted at a single base
// directory (config Paths.SandboxDir). Not safe for concurrent
// Create/Destroy of the *same* sandbox id; distinct ids are independent.
type Manager struct {
	projectPath string
	baseDir     string
	logger      *logging.Logger

	mu       sync.Mutex
	sandboxes map[string]string // id -> absolute path
}

// New creates a Manager rooted at baseDir for copies of projectPath.
func New(projectPath, baseDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		projectPath: projectPath,
		baseDir:     baseDir,
		logger:      logger,
		sandboxes:   make(map[string]string),
	}
}

// CreateWorkspace creates (or reuses, on resume) the persistent workspace
// sandbox. It is the single source of truth for the current test suite
// for the remainder of the run (spec.md §3, §4.2).
func (m *Manager) CreateWorkspace() (string, error) {
	return m.create(WorkspaceID)
}

// CreateTargetSandbox creates an ephemeral sandbox for a single mutant
// evaluation, named uniquely per mutant id as spec.md §4.2 requires. It is
// a copy of the current workspace sandbox, not the original project, so
// the mutant is evaluated against the up-to-date test suite.
func (m *Manager) CreateTargetSandbox(mutantID model.MutantID) (string, error) {
	id := fmt.Sprintf("mutant_%d", mutantID)
	ws, err := m.Path(WorkspaceID)
	if err != nil {
		return "", err
	}
	return m.copyFrom(ws, id)
}

// Path returns the absolute path of an existing sandbox.
func (m *Manager) Path(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.sandboxes[id]
	if !ok {
		return "", errkind.New("sandbox.Path", errkind.SandboxIO)
	}
	return p, nil
}

// Destroy removes an ephemeral target sandbox. It is idempotent: calling
// it on an already-removed id is not an error, so cleanup can run
// unconditionally on every exit path (spec.md §4.2's "destroyed
// immediately after the evaluation completes, including on failure").
func (m *Manager) Destroy(id string) error {
	if id == WorkspaceID {
		return errkind.New("sandbox.Destroy", errkind.InternalInvariant)
	}
	m.mu.Lock()
	path, ok := m.sandboxes[id]
	delete(m.sandboxes, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return errkind.Wrap("sandbox.Destroy", errkind.SandboxIO, err)
	}
	return nil
}

// Live returns the ids of all sandboxes the manager currently tracks,
// used by tests verifying spec.md §8 property 5 (zero ephemeral sandboxes
// on disk at steady state between rounds).
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) create(id string) (string, error) {
	return m.copyFrom(m.projectPath, id)
}

func (m *Manager) copyFrom(src, id string) (string, error) {
	dst := filepath.Join(m.baseDir, id)
	if _, err := os.Stat(dst); err == nil {
		// Resuming an existing sandbox (e.g. workspace after a crash).
		m.mu.Lock()
		m.sandboxes[id] = dst
		m.mu.Unlock()
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errkind.Wrap("sandbox.copyFrom", errkind.SandboxIO, err)
	}
	if err := copyTree(src, dst, defaultIgnore); err != nil {
		_ = os.RemoveAll(dst)
		return "", errkind.Wrap("sandbox.copyFrom", errkind.SandboxIO, err)
	}
	m.mu.Lock()
	m.sandboxes[id] = dst
	m.mu.Unlock()
	m.logger.Debug("sandbox created", "id", id, "src", src, "dst", dst)
	return dst, nil
}

// ApplyPatch overlays a mutant's mutated code onto a single file inside a
// target sandbox, replacing lines [patch.LineStart, patch.LineEnd]
// bit-exactly with patch.MutatedCode's lines (spec.md §6 "Patch format").
// Uses the same atomic temp-file-then-rename write as
// services/trace/tdg/files.go.
func ApplyPatch(sandboxRoot string, patch model.Patch) error {
	if !patch.Valid() {
		return errkind.New("sandbox.ApplyPatch", errkind.PatchOutOfBounds)
	}
	fullPath := filepath.Join(sandboxRoot, patch.FilePath)
	original, err := os.ReadFile(fullPath)
	if err != nil {
		return errkind.Wrap("sandbox.ApplyPatch", errkind.SandboxIO, err)
	}
	lines := splitLinesKeepEnds(string(original))
	if patch.LineStart < 1 || patch.LineEnd > len(lines) {
		return errkind.New("sandbox.ApplyPatch", errkind.PatchOutOfBounds)
	}

	var out []byte
	for _, l := range lines[:patch.LineStart-1] {
		out = append(out, l...)
	}
	mutatedLines := splitPreservingContent(patch.MutatedCode)
	for _, l := range mutatedLines {
		out = append(out, l...)
	}
	last := lines[patch.LineEnd-1]
	if mc := patch.MutatedCode; (mc == "" || mc[len(mc)-1] != '\n') && last[len(last)-1] == '\n' {
		out = append(out, '\n')
	}
	for _, l := range lines[patch.LineEnd:] {
		out = append(out, l...)
	}

	tmp := fullPath + ".comet.tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errkind.Wrap("sandbox.ApplyPatch", errkind.SandboxIO, err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return errkind.Wrap("sandbox.ApplyPatch", errkind.SandboxIO, err)
	}
	return nil
}

// splitLinesKeepEnds splits s into lines that retain their trailing "\n"
// (the last line keeps whatever, possibly nothing, it ended with), so
// reassembly by concatenation exactly reproduces untouched regions.
func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// splitPreservingContent splits the mutated code on "\n" per spec.md §6
// ("no trailing-newline normalization") and re-adds the separator between
// lines so the joined result matches the caller's literal string exactly.
// ApplyPatch adds a final "\n" when the mutated code lacks one and the
// replaced range ended with one.
func splitPreservingContent(mutated string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(mutated); i++ {
		if mutated[i] == '\n' {
			lines = append(lines, mutated[start:i+1])
			start = i + 1
		}
	}
	lines = append(lines, mutated[start:])
	return lines
}

// copyTree recursively copies src to dst, skipping any path component that
// matches an ignore pattern (glob against the base name), mirroring
// sandbox.py's shutil.copytree(ignore=...) behavior.
func copyTree(src, dst string, ignore []string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && ignored(filepath.Base(path), ignore) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
