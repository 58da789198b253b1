package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/internal/model"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Calc.java"), []byte("line1\nline2\nline3\n"), 0o644))
	return dir
}

func TestCreateWorkspaceIgnoresVCSDirs(t *testing.T) {
	project := writeProject(t)
	base := t.TempDir()
	mgr := New(project, base, nil)

	ws, err := mgr.CreateWorkspace()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(ws, "Calc.java"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws, ".git"))
	assert.True(t, os.IsNotExist(err))
}

func TestTargetSandboxLifecycle(t *testing.T) {
	project := writeProject(t)
	base := t.TempDir()
	mgr := New(project, base, nil)

	_, err := mgr.CreateWorkspace()
	require.NoError(t, err)

	path, err := mgr.CreateTargetSandbox(model.MutantID(7))
	require.NoError(t, err)
	assert.Contains(t, path, "mutant_7")
	assert.Contains(t, mgr.Live(), "mutant_7")

	require.NoError(t, mgr.Destroy("mutant_7"))
	assert.NotContains(t, mgr.Live(), "mutant_7")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDestroyIsIdempotent(t *testing.T) {
	mgr := New(t.TempDir(), t.TempDir(), nil)
	assert.NoError(t, mgr.Destroy("mutant_999"))
}

func TestApplyPatchReplacesLineRangeBitExactly(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Calc.java")
	require.NoError(t, os.WriteFile(file, []byte("a\nb\nc\nd\n"), 0o644))

	err := ApplyPatch(dir, model.Patch{
		FilePath:     "Calc.java",
		LineStart:    2,
		LineEnd:      3,
		OriginalCode: "b\nc",
		MutatedCode:  "B\nC\nEXTRA",
	})
	require.NoError(t, err)

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nC\nEXTRA\nd\n", string(got))
}

func TestApplyPatchRejectsOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Calc.java")
	require.NoError(t, os.WriteFile(file, []byte("a\nb\n"), 0o644))

	err := ApplyPatch(dir, model.Patch{
		FilePath:     "Calc.java",
		LineStart:    1,
		LineEnd:      99,
		OriginalCode: "a",
		MutatedCode:  "A",
	})
	assert.Error(t, err)
}

func TestApplyPatchRejectsNoOpMutation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Calc.java")
	require.NoError(t, os.WriteFile(file, []byte("a\nb\n"), 0o644))

	err := ApplyPatch(dir, model.Patch{
		FilePath:     "Calc.java",
		LineStart:    1,
		LineEnd:      1,
		OriginalCode: "a",
		MutatedCode:  "a",
	})
	assert.Error(t, err)
}
