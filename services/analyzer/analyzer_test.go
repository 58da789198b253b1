package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamTypesFromSignature(t *testing.T) {
	assert.Equal(t, "int, int", paramTypesFromSignature("divide(int, int)"))
	assert.Equal(t, "", paramTypesFromSignature("noparens"))
	assert.Equal(t, "", paramTypesFromSignature("empty()"))
}
