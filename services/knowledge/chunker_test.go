package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJavaClass = `public class Calculator {
    public int divide(int a, int b) {
        if (b == 0) {
            throw new ArithmeticException("divide by zero");
        }
        return a / b;
    }

    public int add(int a, int b) {
        return a + b;
    }
}`

func TestCodeChunkerSplitsPerMethod(t *testing.T) {
	c := NewCodeChunker(500, 50)
	chunks := c.Chunk(sampleJavaClass, map[string]string{"class_name": "Calculator"})
	require.Len(t, chunks, 2)
	assert.Equal(t, "divide", chunks[0].Metadata["method_name"])
	assert.Equal(t, "add", chunks[1].Metadata["method_name"])
	assert.Contains(t, chunks[0].Content, "ArithmeticException")
}

func TestCodeChunkerFallsBackToProseWhenNoMethods(t *testing.T) {
	c := NewCodeChunker(10, 2)
	chunks := c.Chunk("just some\n\nplain notes\n\nwith no braces at all here to speak of", nil)
	assert.True(t, len(chunks) >= 1)
}

func TestProseChunkerRespectsMaxTokensAndOverlaps(t *testing.T) {
	text := ""
	for i := 0; i < 20; i++ {
		text += "This paragraph has some words in it to burn tokens steadily.\n\n"
	}
	c := &ProseChunker{MaxTokens: 30, OverlapTokens: 10}
	chunks := c.Chunk(text, nil)
	require.True(t, len(chunks) > 1)
	for _, ch := range chunks {
		assert.Equal(t, len(chunks), ch.TotalChunks)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.True(t, EstimateTokens("hello world") > 0)
}
