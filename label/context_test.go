package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructurallyEqualContextsAreInterchangeable(t *testing.T) {
	e := NextEpoch()
	tests := []struct {
		name string
		a, b ScoringContext
	}{
		{"empty", NewEmptyContext(e), NewEmptyContext(e)},
		{"step", NewStepContext(e, 3), NewStepContext(e, 3)},
		{"seq-step", NewSeqStepContext(e, []TokenID{1, 2}, 4), NewSeqStepContext(e, []TokenID{1, 2}, 4)},
		{"hidden", NewHiddenStateContext(e, []TokenID{5}, NewLazyRoot[HiddenState]()),
			NewHiddenStateContext(e, []TokenID{5}, NewLazyReady[HiddenState]("other handle"))},
		{"prefix", NewPrefixContext(e, []TokenID{1}, NewLazyRoot[*PrefixTable]()),
			NewPrefixContext(e, []TokenID{1}, NewLazyRoot[*PrefixTable]())},
		{"combine",
			NewCombineContext([]ScoringContext{NewStepContext(e, 1), NewSeqStepContext(e, []TokenID{7}, 1)}),
			NewCombineContext([]ScoringContext{NewStepContext(e, 1), NewSeqStepContext(e, []TokenID{7}, 1)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.a.Equal(tt.b))
			assert.True(t, tt.b.Equal(tt.a))
			assert.Equal(t, tt.a.Hash(), tt.b.Hash())
		})
	}
}

func TestDifferentContextsAreNotEqual(t *testing.T) {
	e := NextEpoch()
	tests := []struct {
		name string
		a, b ScoringContext
	}{
		{"step", NewStepContext(e, 3), NewStepContext(e, 4)},
		{"epoch", NewStepContext(e, 3), NewStepContext(NextEpoch(), 3)},
		{"variant", NewStepContext(e, 0), NewSeqStepContext(e, nil, 0)},
		{"history", NewSeqStepContext(e, []TokenID{1, 2}, 0), NewSeqStepContext(e, []TokenID{2, 1}, 0)},
		{"history length", NewPrefixContext(e, []TokenID{1}, nil), NewPrefixContext(e, []TokenID{1, 1}, nil)},
		{"combine arity",
			NewCombineContext([]ScoringContext{NewStepContext(e, 1)}),
			NewCombineContext([]ScoringContext{NewStepContext(e, 1), NewStepContext(e, 1)})},
		{"combine member",
			NewCombineContext([]ScoringContext{NewStepContext(e, 1), NewStepContext(e, 2)}),
			NewCombineContext([]ScoringContext{NewStepContext(e, 1), NewStepContext(e, 3)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.a.Equal(tt.b))
			assert.False(t, tt.b.Equal(tt.a))
		})
	}
}

func TestCombineContextOfSingleSubKeepsItsHash(t *testing.T) {
	sub := NewStepContext(NextEpoch(), 9)
	assert.Equal(t, sub.Hash(), NewCombineContext([]ScoringContext{sub}).Hash())
}

func TestAppendTokenCopies(t *testing.T) {
	h := make([]TokenID, 2, 8)
	h[0], h[1] = 1, 2
	a := AppendToken(h, 3)
	b := AppendToken(h, 4)
	assert.Equal(t, []TokenID{1, 2, 3}, a)
	assert.Equal(t, []TokenID{1, 2, 4}, b)
	assert.Equal(t, []TokenID{1, 2}, h)
}

func TestContextEpoch(t *testing.T) {
	e := NextEpoch()
	got, ok := ContextEpoch(NewSeqStepContext(e, nil, 0))
	assert.True(t, ok)
	assert.Equal(t, e, got)

	_, ok = ContextEpoch(NewCombineContext([]ScoringContext{NewStepContext(e, 0)}))
	assert.False(t, ok)
}
