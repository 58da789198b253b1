package knowledge

import (
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	wmodels "github.com/weaviate/weaviate/entities/models"
)

// whereEqualsAll builds an AND-combined equality filter over the given
// property/value pairs, matching services/trace/memory/retriever.go's
// filters.Where()-based WhereBuilder assembly.
func whereEqualsAll(eq map[string]string) *filters.WhereBuilder {
	operands := make([]*filters.WhereBuilder, 0, len(eq))
	for prop, val := range eq {
		operands = append(operands, filters.Where().
			WithPath([]string{prop}).
			WithOperator(filters.Equal).
			WithValueString(val))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// parseSearchResults converts a GraphQL Get response into SearchResults,
// filtering out anything below scoreThreshold, matching
// lifecycle.go's parseResults defensive type-assertion style.
func parseSearchResults(resp *wmodels.GraphQLResponse, kind Kind, scoreThreshold float64) ([]SearchResult, error) {
	if resp == nil {
		return nil, nil
	}
	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[string(kind)].([]interface{})
	if !ok {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		score := 0.0
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			score = getFloat64(additional, "score")
		}
		if score < scoreThreshold {
			continue
		}

		doc := Document{
			ID:      getString(m, "docId"),
			Content: getString(m, "content"),
			Metadata: map[string]string{
				"className":  getString(m, "className"),
				"methodName": getString(m, "methodName"),
				"category":   getString(m, "category"),
				"tags":       getString(m, "tags"),
			},
		}
		results = append(results, SearchResult{Document: doc, Score: score})
	}
	return results, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}
