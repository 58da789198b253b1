package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// Retriever is the unified retrieval interface the Planner Agent's
// prompt-building step calls into, grounded on
// original_source/comet/knowledge/retriever.py's KnowledgeRetriever:
// task-specific methods (test generation vs. mutation generation) that
// each fan out to the relevant knowledge Kinds and format the combined
// results into prompt-ready markdown sections.
type Retriever struct {
	store          *Store
	topK           int
	scoreThreshold float64
	alpha          float64
}

func NewRetriever(store *Store, topK int, scoreThreshold, alpha float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{store: store, topK: topK, scoreThreshold: scoreThreshold, alpha: alpha}
}

// RetrieveForTestGeneration mirrors retrieve_for_test_generation: pulls
// contracts (filtered to the target class), bug reports, and defect
// patterns, then formats them into one markdown block for the
// gen_tests_initial/gen_tests_refine prompt roles.
func (r *Retriever) RetrieveForTestGeneration(ctx context.Context, classFQN, method, signature string) (string, error) {
	query := fmt.Sprintf("test generation for %s.%s", classFQN, method)
	if signature != "" {
		query += " signature: " + signature
	}

	contracts, err := r.store.Search(ctx, KindContracts, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
		FilterMetadata: map[string]string{"className": classFQN},
	})
	if err != nil {
		return "", err
	}
	bugs, err := r.store.Search(ctx, KindBugReports, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
	})
	if err != nil {
		return "", err
	}
	patterns, err := r.store.Search(ctx, KindPatterns, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeSection(&b, "Method contract information", contracts, 3, 0)
	writeSection(&b, "Related bug cases (reference)", bugs, 2, 500)
	writeSection(&b, "Related defect patterns (tests should cover)", patterns, 3, 200)
	if b.Len() == 0 {
		return "", nil
	}
	return fmt.Sprintf("# Knowledge relevant to %s.%s\n%s", classFQN, method, b.String()), nil
}

// RetrieveForMutationGeneration mirrors retrieve_for_mutation_generation:
// prioritizes defect patterns (fetched at 2x topK, matching the
// original's "get more patterns for mutation generation") plus prior
// structural analysis and bug cases, for gen_mutants_initial/
// gen_mutants_refine.
func (r *Retriever) RetrieveForMutationGeneration(ctx context.Context, classFQN, method, sourceSnippet string) (string, error) {
	query := fmt.Sprintf("mutation patterns for %s.%s", classFQN, method)
	if sourceSnippet != "" {
		query += " with code: " + truncate(sourceSnippet, 500)
	}

	analysis, err := r.store.Search(ctx, KindSourceAnalysis, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
		FilterMetadata: map[string]string{"className": classFQN},
	})
	if err != nil {
		return "", err
	}
	patterns, err := r.store.Search(ctx, KindPatterns, query, SearchOptions{
		TopK: r.topK * 2, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
	})
	if err != nil {
		return "", err
	}
	bugs, err := r.store.Search(ctx, KindBugReports, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeSection(&b, "Code analysis results", analysis, 2, 0)
	writeSection(&b, "Available defect patterns (for mutation)", patterns, 5, 300)
	writeSection(&b, "Related bug cases (mutation reference)", bugs, 2, 400)
	if b.Len() == 0 {
		return "", nil
	}
	return fmt.Sprintf("# Mutation knowledge for %s.%s\n%s", classFQN, method, b.String()), nil
}

// RetrieveSimilarBugs finds bug reports whose content resembles
// codeSnippet, used by the fix_test supplemented prompt role.
func (r *Retriever) RetrieveSimilarBugs(ctx context.Context, codeSnippet string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = r.topK
	}
	return r.store.Search(ctx, KindBugReports, "bug in code: "+codeSnippet, SearchOptions{
		TopK: topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
	})
}

// RetrievePatternsForCategory finds defect patterns tagged with category
// (e.g. "null_pointer", "boundary").
func (r *Retriever) RetrievePatternsForCategory(ctx context.Context, category string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = r.topK
	}
	return r.store.Search(ctx, KindPatterns, category+" defect pattern", SearchOptions{
		TopK: topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha,
		FilterMetadata: map[string]string{"category": category},
	})
}

// RetrieveContracts finds contract documents for a class, optionally
// narrowed to one method.
func (r *Retriever) RetrieveContracts(ctx context.Context, classFQN, method string) ([]SearchResult, error) {
	query := "contract for " + classFQN
	filter := map[string]string{"className": classFQN}
	if method != "" {
		query += "." + method
		filter["methodName"] = method
	}
	return r.store.Search(ctx, KindContracts, query, SearchOptions{
		TopK: r.topK, ScoreThreshold: r.scoreThreshold, Alpha: r.alpha, FilterMetadata: filter,
	})
}

func writeSection(b *strings.Builder, title string, results []SearchResult, max int, truncateAt int) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for i, r := range results {
		if i >= max {
			break
		}
		content := r.Document.Content
		if truncateAt > 0 {
			content = truncate(content, truncateAt) + "..."
		}
		fmt.Fprintf(b, "\n%s\n", content)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
