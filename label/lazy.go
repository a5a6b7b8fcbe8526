package label

import (
	"context"
	"sync"
)

// Resolver computes the values behind a chain of Lazy cells.
type Resolver[T any] interface {
	// Initial computes the segment-start value.
	Initial(ctx context.Context) (T, error)
	// Extend computes the value after appending token to parent.
	Extend(ctx context.Context, parent T, token TokenID) (T, error)
}

// Lazy is a value that is either ready, pending as the segment-start
// sentinel, or pending as "parent plus one token". Get resolves it at most
// once; later calls return the memoized value.
type Lazy[T any] struct {
	mu     sync.Mutex
	ready  bool
	value  T
	parent *Lazy[T] // nil for the root sentinel
	token  TokenID
}

// NewLazyRoot returns the pending segment-start sentinel.
func NewLazyRoot[T any]() *Lazy[T] { return &Lazy[T]{} }

// NewLazyExtension returns a cell pending on parent extended by token.
func NewLazyExtension[T any](parent *Lazy[T], token TokenID) *Lazy[T] {
	if parent == nil {
		contractf("lazy extension without parent")
	}
	return &Lazy[T]{parent: parent, token: token}
}

// NewLazyReady returns an already resolved cell.
func NewLazyReady[T any](v T) *Lazy[T] { return &Lazy[T]{ready: true, value: v} }

// Ready reports whether the value has been computed.
func (l *Lazy[T]) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Peek returns the value if it is ready.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.ready
}

// Get returns the value, resolving it (and any pending ancestors) first.
// On error the cell stays pending and the next call retries.
func (l *Lazy[T]) Get(ctx context.Context, r Resolver[T]) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return l.value, nil
	}

	var (
		v   T
		err error
	)
	if l.parent == nil {
		v, err = r.Initial(ctx)
	} else {
		var pv T
		pv, err = l.parent.Get(ctx, r)
		if err == nil {
			v, err = r.Extend(ctx, pv, l.token)
		}
	}
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = v
	l.ready = true
	l.parent = nil
	return v, nil
}
