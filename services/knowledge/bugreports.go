package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"gopkg.in/yaml.v3"

	"github.com/comet-forge/comet/pkg/errkind"
)

// SupportedBugReportExtensions matches BugReportParser.SUPPORTED_EXTENSIONS:
// arbitrary-format text is accepted since relevance matching is entirely
// semantic (embedding-based), not structural.
var SupportedBugReportExtensions = map[string]bool{
	".md": true, ".txt": true, ".diff": true, ".patch": true,
}

// BugReport is the ingested, un-parsed-further shape of one bug report
// file, mirroring bug_parser.py's simplified BugReport dataclass: no
// structured field extraction beyond an optional YAML front-matter block
// and a title, since semantic search over raw content does the rest.
type BugReport struct {
	ID       string
	Title    string
	FilePath string
	Content  string
	FileType string
	Metadata map[string]string
}

// ToText renders the report as embedding-ready text: a "# Title" heading
// followed by the raw content, matching BugReport.to_text().
func (b BugReport) ToText() string {
	if b.Content == "" {
		return "# " + b.Title
	}
	return "# " + b.Title + "\n\n" + b.Content
}

// BugReportParser ingests bug-report files from a directory into
// BugReports, grounded on original_source/comet/knowledge/bug_parser.py.
type BugReportParser struct {
	idCounter int
}

func NewBugReportParser() *BugReportParser {
	return &BugReportParser{}
}

// ParseDirectory walks dir and parses every file with a supported
// extension, tolerating a missing directory by returning an empty slice
// (bug reports are optional knowledge, matching load_bug_reports'
// "if not directory: return []").
func (p *BugReportParser) ParseDirectory(dir string) ([]BugReport, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var reports []BugReport
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if !SupportedBugReportExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		report, err := p.ParseFile(path)
		if err != nil {
			return nil // skip files that fail to parse, matching the original's warn-and-continue
		}
		if report != nil {
			reports = append(reports, *report)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap("knowledge.ParseDirectory", errkind.SandboxIO, err)
	}
	return reports, nil
}

// ParseFile parses a single bug-report file. Front matter is only
// recognized for .md files, matching the original's suffix check.
func (p *BugReportParser) ParseFile(path string) (*BugReport, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedBugReportExtensions[ext] {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := string(raw)
	metadata := map[string]string{}

	if ext == ".md" {
		content, metadata = extractFrontMatter(content)
	}

	if ext == ".diff" || ext == ".patch" {
		if _, parseErr := diff.NewMultiFileDiffReader(strings.NewReader(content)).ReadAllFiles(); parseErr != nil {
			// Not a fatal error: treat unparseable diffs as plain text,
			// since the original format is intentionally permissive.
		}
	}

	p.idCounter++
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &BugReport{
		ID:       fmt.Sprintf("bug_%s_%d", base, p.idCounter),
		Title:    extractTitle(content, path, metadata),
		FilePath: path,
		Content:  strings.TrimSpace(content),
		FileType: strings.TrimPrefix(ext, "."),
		Metadata: metadata,
	}, nil
}

// extractFrontMatter splits a leading "---\n...\n---" YAML block from the
// rest of a markdown file's content, matching _parse_frontmatter's
// key: value / list front-matter support, but delegating actual parsing
// to yaml.v3 instead of hand-rolled line scanning.
func extractFrontMatter(raw string) (content string, metadata map[string]string) {
	metadata = map[string]string{}
	lines := strings.Split(strings.TrimLeft(raw, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return raw, metadata
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			var raw map[string]interface{}
			if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &raw); err == nil {
				for k, v := range raw {
					metadata[k] = fmt.Sprintf("%v", v)
				}
			}
			return strings.Join(lines[i+1:], "\n"), metadata
		}
	}
	return raw, metadata
}

// extractTitle picks front-matter title, else the first "# " heading,
// else a title-cased filename, matching _extract_title's priority order.
func extractTitle(content, path string, metadata map[string]string) string {
	if t, ok := metadata["title"]; ok && t != "" {
		return t
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return strings.Title(base) //nolint:staticcheck // matches Python's str.title(); no Unicode edge cases expected in filenames
}
