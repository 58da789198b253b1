// Package scanner implements the Project Scanner: a local, fast-path
// enumeration of candidate targets (public methods) across a project's
// source tree, producing stable TargetIDs before the (external,
// out-of-process) Analyzer Bridge is asked to enrich any one of them with
// structural facts.
//
// Grounded on services/trace/ast/go_parser.go's tree-sitter wrapper
// (functional options, file-size guard, one parser instance per call for
// thread safety) generalized from Go's grammar to Java's, since spec.md's
// domain is a Java project driven by a Maven build tool. Where go_parser.go
// builds a full symbol graph (call sites, interface implementation
// detection) for a code-intelligence product, the scanner here only needs
// enough to name a target: package, enclosing class, method name, and the
// method's own line range. Everything else (null checks, cyclomatic
// complexity, javadoc, collaborators) is the Analyzer Bridge's job, kept
// out of this package on purpose so the two can be swapped independently.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
)

// DefaultMaxFileSize mirrors go_parser.go's 10MB guard against pathological
// inputs; a Java source file this large is itself a signal something is
// wrong with the project layout, not a normal target.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ErrFileTooLarge is returned when a source file exceeds MaxFileSize.
var ErrFileTooLarge = errors.New("scanner: file exceeds maximum size limit")

// defaultIgnoreDirs mirrors the sandbox manager's ignore list so the
// scanner never walks into build output or vendored trees.
var defaultIgnoreDirs = map[string]bool{
	".git": true, ".idea": true, ".vscode": true,
	"target": true, "build": true, "node_modules": true,
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(bytes int64) Option {
	return func(s *Scanner) {
		if bytes > 0 {
			s.maxFileSize = bytes
		}
	}
}

// WithExtensions overrides the set of file extensions the scanner treats
// as Java sources (defaults to {".java"}); useful in tests that feed the
// parser fixture files under a different suffix.
func WithExtensions(exts ...string) Option {
	return func(s *Scanner) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// Scanner walks a project tree and enumerates candidate targets using
// tree-sitter. Instances are safe for concurrent use: Scan creates its own
// tree-sitter parser per file, matching go_parser.go's per-call instance
// discipline.
type Scanner struct {
	maxFileSize int64
	extensions  []string
}

// New builds a Scanner with the given options applied over defaults.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		maxFileSize: DefaultMaxFileSize,
		extensions:  []string{".java"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileHash returns the sha256 of the given content (mirrors go_parser.go's
// per-file Hash field).
func FileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Scan walks root and returns one model.Target per public method found in
// every matching source file, with ID/SourceFile/LineStart/LineEnd/
// Signature populated and Facts left zero-valued for the Analyzer Bridge
// to fill in later.
func (s *Scanner) Scan(ctx context.Context, root string) ([]model.Target, error) {
	var targets []model.Target

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if defaultIgnoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.hasMatchingExt(path) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return errkind.Wrap("scanner.Scan", errkind.SandboxIO, err)
		}

		found, err := s.ScanFile(ctx, content, path)
		if err != nil {
			return err
		}
		targets = append(targets, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *Scanner) hasMatchingExt(path string) bool {
	for _, ext := range s.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// ScanFile parses a single file's content and returns one Target per
// public method declaration it finds.
func (s *Scanner) ScanFile(ctx context.Context, content []byte, sourceFile string) ([]model.Target, error) {
	if int64(len(content)) > s.maxFileSize {
		return nil, errkind.Wrap("scanner.ScanFile", errkind.AnalyzerParseFailed, ErrFileTooLarge)
	}
	if !utf8.Valid(content) {
		return nil, errkind.Wrap("scanner.ScanFile", errkind.AnalyzerParseFailed, errors.New("content is not valid UTF-8"))
	}

	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, errkind.Wrap("scanner.ScanFile", errkind.AnalyzerParseFailed, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, nil
	}

	pkg := extractPackage(root, content)

	var targets []model.Target
	walkClasses(root, content, pkg, sourceFile, &targets)
	return targets, nil
}

// extractPackage reads the package_declaration, if any, e.g. "com.acme.calc".
func extractPackage(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "package_declaration" {
			for j := 0; j < int(child.ChildCount()); j++ {
				n := child.Child(j)
				switch n.Type() {
				case "scoped_identifier", "identifier":
					return string(content[n.StartByte():n.EndByte()])
				}
			}
		}
	}
	return ""
}

// walkClasses recurses through class/interface/enum bodies, tracking the
// enclosing class name to build each method's fully-qualified ClassFQN,
// and appends one model.Target per public method_declaration found.
func walkClasses(node *sitter.Node, content []byte, pkg, sourceFile string, out *[]model.Target) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration":
			name := identifierChild(child, content)
			if name == "" {
				continue
			}
			classFQN := name
			if pkg != "" {
				classFQN = pkg + "." + name
			}
			body := fieldOrLastNode(child, "body")
			if body != nil {
				extractMethods(body, content, classFQN, sourceFile, out)
				// Nested classes still resolve against the same package;
				// their own ClassFQN is computed on the recursive call.
				walkClasses(body, content, pkg, sourceFile, out)
			}
		default:
			// Keep descending so top-level files with unconventional
			// structure (multiple top-level types) are still covered.
			walkClasses(child, content, pkg, sourceFile, out)
		}
	}
}

// extractMethods scans a class/interface body for method_declaration
// nodes and appends a Target for every one whose modifiers include
// "public" (spec.md scopes mutation targets to public methods only).
func extractMethods(body *sitter.Node, content []byte, classFQN, sourceFile string, out *[]model.Target) {
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child.Type() != "method_declaration" {
			continue
		}
		if !hasPublicModifier(child, content) {
			continue
		}

		name := identifierChild(child, content)
		if name == "" {
			continue
		}
		params := paramTypesNode(child, content)

		startLine := int(child.StartPoint().Row) + 1
		endLine := int(child.EndPoint().Row) + 1

		*out = append(*out, model.Target{
			ID: model.TargetID{
				ClassFQN:   classFQN,
				Method:     name,
				ParamTypes: params,
			},
			SourceFile: sourceFile,
			LineStart:  startLine,
			LineEnd:    endLine,
			Signature:  string(content[child.StartByte():child.EndByte()]),
			Javadoc:    precedingJavadoc(body, child, content),
		})
	}
}

// hasPublicModifier reports whether a method_declaration carries a
// "public" modifier.
func hasPublicModifier(node *sitter.Node, content []byte) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "modifiers" {
			text := string(content[child.StartByte():child.EndByte()])
			return strings.Contains(text, "public")
		}
	}
	return false
}

// identifierChild returns the first plain "identifier" child's text,
// which for both class_declaration and method_declaration nodes is the
// declared name.
func identifierChild(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			return string(content[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// paramTypesNode extracts a comma-joined parameter-type string from a
// method_declaration's formal_parameters node, dropping parameter names
// to match the ParamTypes shape the Analyzer Bridge also produces.
func paramTypesNode(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "formal_parameters" {
			continue
		}
		var types []string
		for j := 0; j < int(child.ChildCount()); j++ {
			param := child.Child(j)
			if param.Type() != "formal_parameter" {
				continue
			}
			for k := 0; k < int(param.ChildCount()); k++ {
				t := param.Child(k)
				switch t.Type() {
				case "identifier":
					// parameter name, not its type; skip.
				default:
					types = append(types, string(content[t.StartByte():t.EndByte()]))
				}
			}
		}
		return strings.Join(types, ", ")
	}
	return ""
}

// precedingJavadoc looks for a block_comment starting with "/**"
// immediately preceding node among body's children.
func precedingJavadoc(body, node *sitter.Node, content []byte) string {
	nodeStart := node.StartPoint().Row
	var prevComment *sitter.Node
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child.Type() == "block_comment" && child.EndPoint().Row <= nodeStart {
			prevComment = child
			continue
		}
		if child == node {
			break
		}
	}
	if prevComment == nil {
		return ""
	}
	text := string(content[prevComment.StartByte():prevComment.EndByte()])
	if !strings.HasPrefix(strings.TrimSpace(text), "/**") {
		return ""
	}
	return text
}

// fieldOrLastNode returns the named field if the grammar exposes one,
// falling back to the last "*_body" typed child (tree-sitter-java exposes
// class bodies as unnamed but consistently typed "class_body" etc. nodes
// rather than a stable field name across declaration kinds).
func fieldOrLastNode(node *sitter.Node, field string) *sitter.Node {
	if n := node.ChildByFieldName(field); n != nil {
		return n
	}
	for i := int(node.ChildCount()) - 1; i >= 0; i-- {
		child := node.Child(i)
		if strings.HasSuffix(child.Type(), "_body") {
			return child
		}
	}
	return nil
}
