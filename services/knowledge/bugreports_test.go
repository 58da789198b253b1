package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileExtractsFrontMatterTitle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "npe-in-divide.md")
	content := "---\ntitle: NPE in Calculator.divide\ncategory: null_pointer\n---\n\nDividing by a null Wrapper throws NPE.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := NewBugReportParser()
	report, err := p.ParseFile(path)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "NPE in Calculator.divide", report.Title)
	assert.Equal(t, "null_pointer", report.Metadata["category"])
	assert.Contains(t, report.Content, "Dividing by a null Wrapper")
	assert.Equal(t, "md", report.FileType)
}

func TestParseFileFallsBackToHeadingThenFilename(t *testing.T) {
	dir := t.TempDir()

	headingPath := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(headingPath, []byte("# Off by one in loop\n\nbody"), 0o644))

	p := NewBugReportParser()
	report, err := p.ParseFile(headingPath)
	require.NoError(t, err)
	assert.Equal(t, "Off by one in loop", report.Title)

	plainPath := filepath.Join(dir, "some-file_name.txt")
	require.NoError(t, os.WriteFile(plainPath, []byte("no heading here"), 0o644))
	report2, err := p.ParseFile(plainPath)
	require.NoError(t, err)
	assert.Equal(t, "Some File Name", report2.Title)
}

func TestParseDirectoryReturnsEmptyForMissingDir(t *testing.T) {
	p := NewBugReportParser()
	reports, err := p.ParseDirectory("/nonexistent/bugs/dir")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestParseDirectorySkipsUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("binary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bug.txt"), []byte("a real bug report"), 0o644))

	p := NewBugReportParser()
	reports, err := p.ParseDirectory(dir)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "txt", reports[0].FileType)
}
