package label

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sumResolver models a state as the sum of appended tokens starting at 100.
type sumResolver struct {
	initials, extends int
	failNext          bool
}

func (r *sumResolver) Initial(context.Context) (int, error) {
	r.initials++
	return 100, nil
}

func (r *sumResolver) Extend(_ context.Context, parent int, tok TokenID) (int, error) {
	if r.failNext {
		r.failNext = false
		return 0, errors.New("engine down")
	}
	r.extends++
	return parent + int(tok), nil
}

func TestLazyResolvesChainOnce(t *testing.T) {
	ctx := context.Background()
	r := &sumResolver{}
	root := NewLazyRoot[int]()
	a := NewLazyExtension(root, 1)
	b := NewLazyExtension(a, 2)
	c := NewLazyExtension(a, 5)

	assert.False(t, b.Ready())

	v, err := b.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 103, v)
	assert.True(t, a.Ready())
	assert.True(t, root.Ready())

	v, err = c.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 106, v)

	v, err = b.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 103, v)

	assert.Equal(t, 1, r.initials)
	assert.Equal(t, 3, r.extends)
}

func TestLazyRetriesAfterError(t *testing.T) {
	ctx := context.Background()
	r := &sumResolver{failNext: true}
	l := NewLazyExtension(NewLazyReady(10), 4)

	_, err := l.Get(ctx, r)
	require.Error(t, err)
	assert.False(t, l.Ready())

	v, err := l.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 14, v)
}

func TestLazyPeek(t *testing.T) {
	_, ok := NewLazyRoot[string]().Peek()
	assert.False(t, ok)

	v, ok := NewLazyReady("x").Peek()
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestLazyExtensionWithoutParentPanics(t *testing.T) {
	assert.PanicsWithError(t, "label: usage contract violation: lazy extension without parent", func() {
		NewLazyExtension[int](nil, 1)
	})
}
