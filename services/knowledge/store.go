package knowledge

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/comet-forge/comet/pkg/logging"
	"github.com/comet-forge/comet/services/knowledge/vectorstore"
)

// Kind names the four knowledge collections spec.md's retrieval context
// draws from, grounded on vector_store.py's KnowledgeType constants.
type Kind string

const (
	KindSourceAnalysis Kind = "SourceAnalysis"
	KindBugReports     Kind = "BugReports"
	KindContracts      Kind = "Contracts"
	KindPatterns       Kind = "Patterns"
)

var allKinds = []Kind{KindSourceAnalysis, KindBugReports, KindContracts, KindPatterns}

// Document is one stored unit of knowledge, addressable by ID for update
// and deletion (matches vector_store.py's Document dataclass).
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult pairs a Document with its retrieval score in [0, 1].
type SearchResult struct {
	Document Document
	Score    float64
}

// Store owns the Weaviate schema for the four knowledge kinds and
// provides Add/Search primitives the Retriever composes into
// task-specific queries. Grounded on services/code_buddy/memory/schema.go
// (per-class schema definition, class-exists-then-create bootstrap) and
// original_source/comet/knowledge/vector_store.py's per-collection
// add/search shape.
type Store struct {
	client *vectorstore.Client
	logger *logging.Logger
}

func NewStore(client *vectorstore.Client, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, logger: logger}
}

// EnsureSchema creates any of the four knowledge classes that don't yet
// exist. Safe to call repeatedly (idempotent bootstrap), matching
// schema.go's ClassGetter-then-ClassCreator pattern.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, kind := range allKinds {
		kind := kind
		err := s.client.Execute(ctx, func() error {
			_, err := s.client.Raw().Schema().ClassGetter().WithClassName(string(kind)).Do(ctx)
			if err == nil {
				return nil // class already exists
			}
			return s.client.Raw().Schema().ClassCreator().WithClass(classSchema(kind)).Do(ctx)
		})
		if err != nil {
			return fmt.Errorf("knowledge: ensure schema for %s: %w", kind, err)
		}
	}
	return nil
}

// classSchema builds the Weaviate class definition for kind: a text
// "content" property vectorized for semantic search, plus filterable
// "docId" and free-form metadata properties used by filter_metadata-style
// queries (className, methodName, category, tags).
func classSchema(kind Kind) *wmodels.Class {
	filterable := true
	skipVectorize := true

	textProp := func(name string, vectorized bool) *wmodels.Property {
		p := &wmodels.Property{
			Name:            name,
			DataType:        []string{"text"},
			IndexFilterable: &filterable,
			Tokenization:    "field",
		}
		if !vectorized {
			p.ModuleConfig = map[string]interface{}{
				"text2vec-transformers": map[string]interface{}{"skip": skipVectorize},
			}
		}
		return p
	}

	return &wmodels.Class{
		Class:      string(kind),
		Vectorizer: "text2vec-transformers",
		Properties: []*wmodels.Property{
			textProp("docId", false),
			textProp("content", true),
			textProp("className", false),
			textProp("methodName", false),
			textProp("category", false),
			textProp("tags", false),
		},
	}
}

// Add stores one document under kind, embedding "content" for semantic
// search via Weaviate's configured vectorizer.
func (s *Store) Add(ctx context.Context, kind Kind, doc Document) error {
	props := map[string]interface{}{
		"docId":   doc.ID,
		"content": doc.Content,
	}
	for k, v := range doc.Metadata {
		props[k] = v
	}
	return s.client.Execute(ctx, func() error {
		_, err := s.client.Raw().Data().Creator().
			WithClassName(string(kind)).
			WithProperties(props).
			Do(ctx)
		return err
	})
}

// SearchOptions configures a Search call.
type SearchOptions struct {
	TopK           int
	ScoreThreshold float64
	// Alpha weights the query between pure keyword (0.0) and pure vector
	// semantic similarity (1.0), matching spec.md's
	// alpha·semantic + (1-alpha)·keyword_match retrieval formula.
	// Weaviate's native hybrid search implements exactly this blend, so
	// this bridge passes Alpha straight through instead of computing two
	// separate scores and blending them in Go.
	Alpha float64
	// FilterMetadata restricts results to documents whose named
	// properties equal the given values (e.g. {"className": "Calculator"}).
	FilterMetadata map[string]string
}

// Search runs a hybrid semantic+keyword query against kind's collection.
func (s *Store) Search(ctx context.Context, kind Kind, query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	fields := []graphql.Field{
		{Name: "docId"}, {Name: "content"}, {Name: "className"},
		{Name: "methodName"}, {Name: "category"}, {Name: "tags"},
		{Name: "_additional { score id }"},
	}

	hybrid := s.client.Raw().GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(float32(opts.Alpha))

	builder := s.client.Raw().GraphQL().Get().
		WithClassName(string(kind)).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(opts.TopK)

	if len(opts.FilterMetadata) > 0 {
		builder = builder.WithWhere(whereEqualsAll(opts.FilterMetadata))
	}

	var resp *wmodels.GraphQLResponse
	err := s.client.Execute(ctx, func() error {
		var innerErr error
		resp, innerErr = builder.Do(ctx)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: search %s: %w", kind, err)
	}
	if resp != nil && len(resp.Errors) > 0 {
		return nil, fmt.Errorf("knowledge: search %s: %s", kind, resp.Errors[0].Message)
	}

	return parseSearchResults(resp, kind, opts.ScoreThreshold)
}
