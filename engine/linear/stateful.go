package linear

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/ieee0824/labelscore/engine"
)

// MeanPool initializes a hidden state as the time average of the encoder
// states [1, T, F], giving a state of shape [1, F]. An optional size input
// limits the average to the first size frames.
type MeanPool struct {
	base
	states, size string
	dim          int
}

// NewMeanPool builds the initializer. stateOutput is also recorded in the
// metadata under stateName.
func NewMeanPool(states, size, stateOutput, stateName string, dim int) *MeanPool {
	m := &MeanPool{states: states, size: size, dim: dim}
	m.inputs = []string{states}
	if size != "" {
		m.inputs = append(m.inputs, size)
	}
	m.outputs = []string{stateOutput}
	m.meta = map[string]string{stateOutput: stateName}
	return m
}

func (m *MeanPool) Run(_ context.Context, inputs []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := m.checkOutputs(outputs); err != nil {
		return nil, fmt.Errorf("mean-pool: %w", err)
	}
	x, err := m.lookup(inputs, m.states)
	if err != nil {
		return nil, fmt.Errorf("mean-pool: %w", err)
	}
	T, err := rows(x, m.dim)
	if err != nil {
		return nil, fmt.Errorf("mean-pool %s: %w", m.states, err)
	}
	if m.size != "" {
		s, err := m.lookup(inputs, m.size)
		if err != nil {
			return nil, fmt.Errorf("mean-pool: %w", err)
		}
		if s.DType != engine.Int32 || len(s.I32) != 1 {
			return nil, fmt.Errorf("mean-pool %s: want one int32", m.size)
		}
		T = min(T, int(s.I32[0]))
	}
	out := make([]float32, m.dim)
	for t := 0; t < T; t++ {
		for j := range out {
			out[j] += x.F32[t*m.dim+j]
		}
	}
	if T > 0 {
		for j := range out {
			out[j] /= float32(T)
		}
	}
	return []*engine.Tensor{engine.NewFloat32(out, 1, int64(m.dim))}, nil
}

// Recurrent updates a hidden state with one token:
//
//	s' = tanh(s·Wᵀ + B + Embedding[token])
type Recurrent struct {
	base
	Layer     Layer     // [D × D]
	Embedding []float32 // [tokens × D]

	stateIn, token string
}

// NewRecurrent builds the updater. stateIn and stateOut are both recorded
// in the metadata under stateName.
func NewRecurrent(stateIn, token, stateOut, stateName string, layer Layer, embedding []float32) *Recurrent {
	r := &Recurrent{Layer: layer, Embedding: embedding, stateIn: stateIn, token: token}
	r.inputs = []string{stateIn, token}
	r.outputs = []string{stateOut}
	r.meta = map[string]string{stateIn: stateName, stateOut: stateName}
	return r
}

// NewRandomRecurrent draws weights from seed.
func NewRandomRecurrent(stateIn, token, stateOut, stateName string, seed int64, dim, vocab int) *Recurrent {
	rng := rand.New(rand.NewSource(seed))
	layer := NewRandomLayer(rng, dim, dim)
	emb := make([]float32, vocab*dim)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64() * 0.5)
	}
	return NewRecurrent(stateIn, token, stateOut, stateName, layer, emb)
}

func (r *Recurrent) Run(_ context.Context, inputs []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := r.checkOutputs(outputs); err != nil {
		return nil, fmt.Errorf("recurrent: %w", err)
	}
	s, err := r.lookup(inputs, r.stateIn)
	if err != nil {
		return nil, fmt.Errorf("recurrent: %w", err)
	}
	n, err := rows(s, r.Layer.In)
	if err != nil {
		return nil, fmt.Errorf("recurrent %s: %w", r.stateIn, err)
	}
	tok, err := r.lookup(inputs, r.token)
	if err != nil {
		return nil, fmt.Errorf("recurrent: %w", err)
	}
	if tok.DType != engine.Int32 || len(tok.I32) != n {
		return nil, fmt.Errorf("recurrent %s: want %d int32 tokens", r.token, n)
	}
	z := r.Layer.Forward(s.F32, n)
	D := r.Layer.Out
	for b := 0; b < n; b++ {
		t := int(tok.I32[b])
		if t < 0 || (t+1)*D > len(r.Embedding) {
			return nil, fmt.Errorf("recurrent: token %d outside embedding", t)
		}
		row := z[b*D : (b+1)*D]
		for j := range row {
			row[j] = float32(math.Tanh(float64(row[j] + r.Embedding[t*D+j])))
		}
	}
	return []*engine.Tensor{engine.NewFloat32(z, int64(n), int64(D))}, nil
}

// Constant is an initializer without inputs: it always returns the same
// [1, D] state.
type Constant struct {
	base
	State []float32
}

// NewConstant builds the initializer. stateOutput is recorded in the
// metadata under stateName.
func NewConstant(stateOutput, stateName string, state []float32) *Constant {
	c := &Constant{State: state}
	c.outputs = []string{stateOutput}
	c.meta = map[string]string{stateOutput: stateName}
	return c
}

func (c *Constant) Run(_ context.Context, _ []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := c.checkOutputs(outputs); err != nil {
		return nil, fmt.Errorf("constant: %w", err)
	}
	state := append([]float32(nil), c.State...)
	return []*engine.Tensor{engine.NewFloat32(state, 1, int64(len(state)))}, nil
}

// Joint scores one encoder frame against a batch of hidden states:
//
//	scores = log_softmax(x·Fᵀ + s·Sᵀ + B)
//
// The frame [1, F] is broadcast over the states [B, D].
type Joint struct {
	base
	Feature Layer // [V × F]
	State   Layer // [V × D], its bias is ignored

	feature, state string
}

// NewJoint builds the joint network. state is recorded in the metadata
// under stateName.
func NewJoint(feature, state, scores, stateName string, featureLayer, stateLayer Layer) *Joint {
	j := &Joint{Feature: featureLayer, State: stateLayer, feature: feature, state: state}
	j.inputs = []string{feature, state}
	j.outputs = []string{scores}
	j.meta = map[string]string{state: stateName}
	return j
}

// NewRandomJoint draws weights from seed.
func NewRandomJoint(feature, state, scores, stateName string, seed int64, featureDim, stateDim, vocab int) *Joint {
	rng := rand.New(rand.NewSource(seed))
	return NewJoint(feature, state, scores, stateName,
		NewRandomLayer(rng, featureDim, vocab), NewRandomLayer(rng, stateDim, vocab))
}

func (j *Joint) Run(_ context.Context, inputs []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := j.checkOutputs(outputs); err != nil {
		return nil, fmt.Errorf("joint: %w", err)
	}
	x, err := j.lookup(inputs, j.feature)
	if err != nil {
		return nil, fmt.Errorf("joint: %w", err)
	}
	if n, err := rows(x, j.Feature.In); err != nil || n != 1 {
		return nil, fmt.Errorf("joint %s: want one row of %d, got %v", j.feature, j.Feature.In, x.Shape)
	}
	s, err := j.lookup(inputs, j.state)
	if err != nil {
		return nil, fmt.Errorf("joint: %w", err)
	}
	batch, err := rows(s, j.State.In)
	if err != nil {
		return nil, fmt.Errorf("joint %s: %w", j.state, err)
	}
	fx := j.Feature.Forward(x.F32, 1)
	z := j.State.Forward(s.F32, batch)
	V := j.State.Out
	for b := 0; b < batch; b++ {
		for v := 0; v < V; v++ {
			z[b*V+v] += fx[v] - j.State.B[v]
		}
	}
	logSoftmaxRows(z, batch, V)
	return []*engine.Tensor{engine.NewFloat32(z, int64(batch), int64(V))}, nil
}
