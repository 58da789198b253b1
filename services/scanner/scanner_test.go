package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJava = `package com.acme.calc;

public class Calculator {
    /**
     * Divides a by b.
     */
    public int divide(int a, int b) {
        return a / b;
    }

    private int helper(int x) {
        return x;
    }
}
`

func TestScanFileFindsPublicMethodsOnly(t *testing.T) {
	s := New()
	targets, err := s.ScanFile(context.Background(), []byte(sampleJava), "Calculator.java")
	require.NoError(t, err)
	require.Len(t, targets, 1)

	got := targets[0]
	assert.Equal(t, "com.acme.calc.Calculator", got.ID.ClassFQN)
	assert.Equal(t, "divide", got.ID.Method)
	assert.Equal(t, "int, int", got.ID.ParamTypes)
	assert.Equal(t, "Calculator.java", got.SourceFile)
	assert.Contains(t, got.Javadoc, "Divides a by b")
}

func TestScanFileRejectsOversizedInput(t *testing.T) {
	s := New(WithMaxFileSize(4))
	_, err := s.ScanFile(context.Background(), []byte(sampleJava), "Calculator.java")
	assert.Error(t, err)
}

func TestFileHashIsStableForSameContent(t *testing.T) {
	a := FileHash([]byte("hello"))
	b := FileHash([]byte("hello"))
	c := FileHash([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
