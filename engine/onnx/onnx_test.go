package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureDistinguishesNameSets(t *testing.T) {
	a := signature([]string{"history", "encoder-state"}, []string{"scores"})
	b := signature([]string{"encoder-state", "history"}, []string{"scores"})
	c := signature([]string{"history"}, []string{"encoder-state", "scores"})
	assert.NotEqual(t, a, b, "input order is part of the binding")
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, signature([]string{"history", "encoder-state"}, []string{"scores"}))
}
