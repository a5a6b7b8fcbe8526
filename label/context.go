package label

import (
	"slices"
	"sync/atomic"
)

// ScoringContext is the opaque decoding state a scorer hands to the search.
// The set of variants is closed; strategies switch on the concrete type and
// treat any other variant as a contract violation.
//
// Structurally equal contexts hash equal and compare equal.
type ScoringContext interface {
	Hash() uint64
	Equal(other ScoringContext) bool

	scoringContext()
}

// Epoch identifies one decode segment of one scorer. Contexts remember the
// epoch they were created in so that contexts surviving a Reset are caught.
type Epoch uint64

var epochCounter atomic.Uint64

// NextEpoch returns a process-wide unique epoch.
func NextEpoch() Epoch { return Epoch(epochCounter.Add(1)) }

const goldenRatio64 = 0x9e3779b97f4a7c15

// combineHash mixes v into seed (boost::hash_combine widened to 64 bits).
func combineHash(seed, v uint64) uint64 {
	return seed ^ (v + goldenRatio64 + (seed << 6) + (seed >> 2))
}

func hashTokens(seed uint64, tokens []TokenID) uint64 {
	h := combineHash(seed, uint64(len(tokens)))
	for _, t := range tokens {
		h = combineHash(h, uint64(uint32(t)))
	}
	return h
}

// EmptyContext carries no state.
type EmptyContext struct {
	epoch Epoch
}

// NewEmptyContext returns an empty context for the given segment.
func NewEmptyContext(epoch Epoch) *EmptyContext { return &EmptyContext{epoch: epoch} }

// Epoch returns the segment the context belongs to.
func (c *EmptyContext) Epoch() Epoch  { return c.epoch }
func (c *EmptyContext) Hash() uint64  { return combineHash(1, uint64(c.epoch)) }
func (*EmptyContext) scoringContext() {}

// Equal reports whether other is the empty context of the same segment.
func (c *EmptyContext) Equal(other ScoringContext) bool {
	o, ok := other.(*EmptyContext)
	return ok && o.epoch == c.epoch
}

// StepContext is a bare timestep counter.
type StepContext struct {
	step  TimeIndex
	epoch Epoch
}

// NewStepContext returns the context positioned at input index step.
func NewStepContext(epoch Epoch, step TimeIndex) *StepContext {
	return &StepContext{step: step, epoch: epoch}
}

// Step is the input index the next label is scored at.
func (c *StepContext) Step() TimeIndex { return c.step }

// Epoch returns the segment the context belongs to.
func (c *StepContext) Epoch() Epoch  { return c.epoch }
func (*StepContext) scoringContext() {}

// Hash mixes the epoch and the step.
func (c *StepContext) Hash() uint64 {
	return combineHash(combineHash(2, uint64(c.epoch)), uint64(c.step))
}

// Equal reports whether other is at the same step of the same segment.
func (c *StepContext) Equal(other ScoringContext) bool {
	o, ok := other.(*StepContext)
	return ok && o.epoch == c.epoch && o.step == c.step
}

// SeqStepContext is a token history plus a timestep.
type SeqStepContext struct {
	history []TokenID
	step    TimeIndex
	epoch   Epoch
}

// NewSeqStepContext takes ownership of history.
func NewSeqStepContext(epoch Epoch, history []TokenID, step TimeIndex) *SeqStepContext {
	return &SeqStepContext{history: history, step: step, epoch: epoch}
}

// History must not be modified by the caller.
func (c *SeqStepContext) History() []TokenID { return c.history }

// Step is the input index the next label is scored at.
func (c *SeqStepContext) Step() TimeIndex { return c.step }

// Epoch returns the segment the context belongs to.
func (c *SeqStepContext) Epoch() Epoch  { return c.epoch }
func (*SeqStepContext) scoringContext() {}

// Hash mixes the epoch, the step and every history token.
func (c *SeqStepContext) Hash() uint64 {
	h := combineHash(combineHash(3, uint64(c.epoch)), uint64(c.step))
	return hashTokens(h, c.history)
}

// Equal compares epoch, step and history.
func (c *SeqStepContext) Equal(other ScoringContext) bool {
	o, ok := other.(*SeqStepContext)
	return ok && o.epoch == c.epoch && o.step == c.step && slices.Equal(o.history, c.history)
}

// HiddenState is a model-specific state handle. It is shared by pointer
// between every context that reaches it.
type HiddenState any

// HiddenStateContext is a token history plus a lazily computed model state.
// Two contexts with the same history are equal: the state is a function of
// the history.
type HiddenStateContext struct {
	history []TokenID
	state   *Lazy[HiddenState]
	epoch   Epoch
}

// NewHiddenStateContext takes ownership of history. state is usually a
// pending extension of the parent context's state.
func NewHiddenStateContext(epoch Epoch, history []TokenID, state *Lazy[HiddenState]) *HiddenStateContext {
	return &HiddenStateContext{history: history, state: state, epoch: epoch}
}

// History must not be modified by the caller.
func (c *HiddenStateContext) History() []TokenID { return c.history }

// State is the lazy model state reached by History.
func (c *HiddenStateContext) State() *Lazy[HiddenState] { return c.state }

// Epoch returns the segment the context belongs to.
func (c *HiddenStateContext) Epoch() Epoch  { return c.epoch }
func (*HiddenStateContext) scoringContext() {}

// RequiresFinalize reports whether the state still has to be computed.
func (c *HiddenStateContext) RequiresFinalize() bool { return !c.state.Ready() }

// Hash ignores the state, which is a function of the history.
func (c *HiddenStateContext) Hash() uint64 {
	return hashTokens(combineHash(4, uint64(c.epoch)), c.history)
}

// Equal compares epoch and history.
func (c *HiddenStateContext) Equal(other ScoringContext) bool {
	o, ok := other.(*HiddenStateContext)
	return ok && o.epoch == c.epoch && slices.Equal(o.history, c.history)
}

// StepHiddenStateContext is a token history with its lazy model state plus
// the input index the next label is scored at. Transducers advance the step
// and the state independently.
type StepHiddenStateContext struct {
	history []TokenID
	state   *Lazy[HiddenState]
	step    TimeIndex
	epoch   Epoch
}

// NewStepHiddenStateContext takes ownership of history.
func NewStepHiddenStateContext(epoch Epoch, history []TokenID, state *Lazy[HiddenState], step TimeIndex) *StepHiddenStateContext {
	return &StepHiddenStateContext{history: history, state: state, step: step, epoch: epoch}
}

// History must not be modified by the caller.
func (c *StepHiddenStateContext) History() []TokenID { return c.history }

// State is the lazy model state reached by History.
func (c *StepHiddenStateContext) State() *Lazy[HiddenState] { return c.state }

// Step is the input index the next label is scored at.
func (c *StepHiddenStateContext) Step() TimeIndex { return c.step }

// Epoch returns the segment the context belongs to.
func (c *StepHiddenStateContext) Epoch() Epoch  { return c.epoch }
func (*StepHiddenStateContext) scoringContext() {}

// RequiresFinalize reports whether the state still has to be computed.
func (c *StepHiddenStateContext) RequiresFinalize() bool { return !c.state.Ready() }

// Hash mixes the epoch, the step and every history token.
func (c *StepHiddenStateContext) Hash() uint64 {
	h := combineHash(combineHash(7, uint64(c.epoch)), uint64(c.step))
	return hashTokens(h, c.history)
}

// Equal compares epoch, step and history.
func (c *StepHiddenStateContext) Equal(other ScoringContext) bool {
	o, ok := other.(*StepHiddenStateContext)
	return ok && o.epoch == c.epoch && o.step == c.step && slices.Equal(o.history, c.history)
}

// CombineContext holds one context per sub-scorer of a combination.
type CombineContext struct {
	subs []ScoringContext
	hash uint64
}

// NewCombineContext takes ownership of subs.
func NewCombineContext(subs []ScoringContext) *CombineContext {
	h := uint64(0)
	for _, s := range subs {
		if h == 0 {
			h = s.Hash()
			continue
		}
		h = combineHash(h, s.Hash())
	}
	return &CombineContext{subs: subs, hash: h}
}

// Subs must not be modified by the caller.
func (c *CombineContext) Subs() []ScoringContext { return c.subs }

// Hash is computed once from the sub-context hashes.
func (c *CombineContext) Hash() uint64  { return c.hash }
func (*CombineContext) scoringContext() {}

// Equal compares the sub-contexts pairwise.
func (c *CombineContext) Equal(other ScoringContext) bool {
	o, ok := other.(*CombineContext)
	if !ok || o.hash != c.hash || len(o.subs) != len(c.subs) {
		return false
	}
	for i := range c.subs {
		if !c.subs[i].Equal(o.subs[i]) {
			return false
		}
	}
	return true
}

// PrefixContext is a label history with its lazily computed CTC prefix table.
type PrefixContext struct {
	history []TokenID
	table   *Lazy[*PrefixTable]
	epoch   Epoch
}

// NewPrefixContext takes ownership of history.
func NewPrefixContext(epoch Epoch, history []TokenID, table *Lazy[*PrefixTable]) *PrefixContext {
	return &PrefixContext{history: history, table: table, epoch: epoch}
}

// History must not be modified by the caller.
func (c *PrefixContext) History() []TokenID { return c.history }

// Table is the lazy prefix table of History.
func (c *PrefixContext) Table() *Lazy[*PrefixTable] { return c.table }

// Epoch returns the segment the context belongs to.
func (c *PrefixContext) Epoch() Epoch  { return c.epoch }
func (*PrefixContext) scoringContext() {}

// RequiresFinalize reports whether the prefix table still has to be computed.
func (c *PrefixContext) RequiresFinalize() bool { return !c.table.Ready() }

// Hash ignores the table, which is a function of the history.
func (c *PrefixContext) Hash() uint64 {
	return hashTokens(combineHash(6, uint64(c.epoch)), c.history)
}

// Equal compares epoch and history.
func (c *PrefixContext) Equal(other ScoringContext) bool {
	o, ok := other.(*PrefixContext)
	return ok && o.epoch == c.epoch && slices.Equal(o.history, c.history)
}

// AppendToken returns a fresh copy of history with tok appended.
func AppendToken(history []TokenID, tok TokenID) []TokenID {
	out := make([]TokenID, len(history)+1)
	copy(out, history)
	out[len(history)] = tok
	return out
}

// ContextEpoch reports the epoch of a context. Combine contexts have none of
// their own and report false.
func ContextEpoch(c ScoringContext) (Epoch, bool) {
	switch v := c.(type) {
	case *EmptyContext:
		return v.epoch, true
	case *StepContext:
		return v.epoch, true
	case *SeqStepContext:
		return v.epoch, true
	case *HiddenStateContext:
		return v.epoch, true
	case *StepHiddenStateContext:
		return v.epoch, true
	case *PrefixContext:
		return v.epoch, true
	}
	return 0, false
}
