// Package linear implements small deterministic inference sessions built
// from affine layers. They stand in for real models in tests and demos and
// follow the same named-input conventions as exported ONNX graphs.
package linear

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/internal/blas"
)

// Layer is a fully-connected layer. W is [Out × In] row-major, B is [Out].
type Layer struct {
	W   []float32
	B   []float32
	In  int
	Out int
}

// NewRandomLayer initializes a layer with Xavier-uniform weights.
func NewRandomLayer(rng *rand.Rand, in, out int) Layer {
	l := Layer{W: make([]float32, out*in), B: make([]float32, out), In: in, Out: out}
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := range l.W {
		l.W[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return l
}

// Forward computes x·Wᵀ + B for batch rows of x.
func (l Layer) Forward(x []float32, batch int) []float32 {
	out := make([]float32, batch*l.Out)
	if batch == 0 {
		return out
	}
	blas.Sgemm(false, true, batch, l.Out, l.In, 1, x, l.In, l.W, l.In, 0, out, l.Out)
	for b := 0; b < batch; b++ {
		row := out[b*l.Out : (b+1)*l.Out]
		for j := range row {
			row[j] += l.B[j]
		}
	}
	return out
}

func logSoftmaxRows(z []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := z[i*cols : (i+1)*cols]
		maxVal := float32(math.Inf(-1))
		for _, v := range row {
			maxVal = max(maxVal, v)
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(float64(v - maxVal))
		}
		lse := maxVal + float32(math.Log(sum))
		for j := range row {
			row[j] -= lse
		}
	}
}

type base struct {
	inputs, outputs []string
	meta            map[string]string
}

func (b base) InputNames() []string        { return b.inputs }
func (b base) OutputNames() []string       { return b.outputs }
func (b base) Metadata() map[string]string { return b.meta }

func (b base) lookup(inputs []engine.Input, name string) (*engine.Tensor, error) {
	for _, in := range inputs {
		if in.Name == name {
			return in.Value, nil
		}
	}
	return nil, fmt.Errorf("missing input %q", name)
}

func (b base) checkOutputs(outputs []string) error {
	for _, o := range outputs {
		if o != b.outputs[0] {
			return fmt.Errorf("unknown output %q", o)
		}
	}
	return nil
}

func rows(t *engine.Tensor, dim int) (int, error) {
	if t.DType != engine.Float32 {
		return 0, fmt.Errorf("want float32, got %s", t.DType)
	}
	if dim == 0 || t.Len()%dim != 0 {
		return 0, fmt.Errorf("shape %v incompatible with width %d", t.Shape, dim)
	}
	return t.Len() / dim, nil
}

// Classifier maps a feature row (and optionally a token history) to
// log-probabilities over the vocabulary:
//
//	scores = log_softmax(x·Wᵀ + B + Σ_h Embedding[h])
//
// A single feature row is broadcast over a larger history batch.
type Classifier struct {
	base
	Layer     Layer
	Embedding []float32 // [tokens × Layer.Out], nil without history input

	feature, history string
}

// ClassifierConfig names the classifier's tensors.
type ClassifierConfig struct {
	Feature  string
	History  string // empty: no history input
	Scores   string
	Metadata map[string]string
}

// NewClassifier builds a classifier session.
func NewClassifier(cfg ClassifierConfig, layer Layer, embedding []float32) *Classifier {
	c := &Classifier{Layer: layer, Embedding: embedding, feature: cfg.Feature, history: cfg.History}
	c.inputs = []string{cfg.Feature}
	if cfg.History != "" {
		c.inputs = append(c.inputs, cfg.History)
	}
	c.outputs = []string{cfg.Scores}
	c.meta = cfg.Metadata
	return c
}

// NewRandomClassifier draws weights from seed.
func NewRandomClassifier(cfg ClassifierConfig, seed int64, featureDim, vocab int) *Classifier {
	rng := rand.New(rand.NewSource(seed))
	layer := NewRandomLayer(rng, featureDim, vocab)
	var emb []float32
	if cfg.History != "" {
		emb = make([]float32, vocab*vocab)
		for i := range emb {
			emb[i] = float32(rng.NormFloat64() * 0.5)
		}
	}
	return NewClassifier(cfg, layer, emb)
}

func (c *Classifier) Run(_ context.Context, inputs []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := c.checkOutputs(outputs); err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	x, err := c.lookup(inputs, c.feature)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	n, err := rows(x, c.Layer.In)
	if err != nil {
		return nil, fmt.Errorf("classifier %s: %w", c.feature, err)
	}
	z := c.Layer.Forward(x.F32, n)
	batch := n

	if c.history != "" {
		h, err := c.lookup(inputs, c.history)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		if h.DType != engine.Int32 || len(h.Shape) != 2 {
			return nil, fmt.Errorf("classifier %s: want int32 [B,H], got %s %v", c.history, h.DType, h.Shape)
		}
		batch = int(h.Shape[0])
		if n != 1 && n != batch {
			return nil, fmt.Errorf("classifier: %d feature rows for %d histories", n, batch)
		}
		if n == 1 && batch != 1 {
			z = broadcastRow(z, batch)
		}
		width := int(h.Shape[1])
		for b := 0; b < batch; b++ {
			row := z[b*c.Layer.Out : (b+1)*c.Layer.Out]
			for _, tok := range h.I32[b*width : (b+1)*width] {
				if int(tok)*c.Layer.Out >= len(c.Embedding) || tok < 0 {
					return nil, fmt.Errorf("classifier: history token %d outside embedding", tok)
				}
				emb := c.Embedding[int(tok)*c.Layer.Out : (int(tok)+1)*c.Layer.Out]
				for j := range row {
					row[j] += emb[j]
				}
			}
		}
	}

	logSoftmaxRows(z, batch, c.Layer.Out)
	return []*engine.Tensor{engine.NewFloat32(z, int64(batch), int64(c.Layer.Out))}, nil
}

func broadcastRow(row []float32, n int) []float32 {
	out := make([]float32, 0, n*len(row))
	for i := 0; i < n; i++ {
		out = append(out, row...)
	}
	return out
}
