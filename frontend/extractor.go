package frontend

import (
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ieee0824/labelscore/label"
)

var validate = validator.New()

// deltaWindow is the regression half-width of one delta order.
const deltaWindow = 2

// Extractor computes feature frames from a sample stream. It is not safe
// for concurrent use.
type Extractor struct {
	cfg    Config
	logger *slog.Logger

	frameLen, shift int
	window          []float64
	fft             *fourier.FFT
	fftIn           []float64
	coeffs          []complex128
	power           []float64
	mel             melFilterbank
	dct             [][]float64 // [cepstra][filters]
	lifter          []float64

	// segment state
	prev     float64
	started  bool
	pending  []float64   // pre-emphasized samples not yet consumed
	statics  [][]float64 // static frames from index base on
	base     int
	emitted  int
	meanSum  []float64
	meanSeen int
}

// New builds an extractor. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, label.Configf("frontend: %v", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := cfg.fftSize()
	e := &Extractor{
		cfg:      cfg,
		logger:   logger.With("component", "frontend"),
		frameLen: cfg.frameLength(),
		shift:    cfg.frameShift(),
		fft:      fourier.NewFFT(n),
		fftIn:    make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		power:    make([]float64, n/2+1),
		mel:      newMelFilterbank(cfg.MelFilters, n, cfg.SampleRate, cfg.LowFreq, cfg.highFreq()),
		meanSum:  make([]float64, cfg.StaticDim()),
	}
	e.window = hamming(e.frameLen)
	if cfg.Kind == MFCC {
		e.dct = dctTable(cfg.Cepstra, cfg.MelFilters)
		if cfg.Lifter > 0 {
			e.lifter = lifterTable(cfg.Cepstra, cfg.Lifter)
		}
	}
	e.logger.Debug("extractor ready", "config", cfg.String(), "fft", n)
	return e, nil
}

// Config returns the analysis parameters.
func (e *Extractor) Config() Config { return e.cfg }

// Dim is the width of the produced frames.
func (e *Extractor) Dim() int { return e.cfg.Dim() }

// reach is how many static frames past t are needed to emit frame t.
func (e *Extractor) reach() int { return deltaWindow * e.cfg.Deltas }

// Reset drops the current segment.
func (e *Extractor) Reset() {
	e.prev, e.started = 0, false
	e.pending = e.pending[:0]
	e.statics = nil
	e.base, e.emitted = 0, 0
	clear(e.meanSum)
	e.meanSeen = 0
}

// Push consumes samples and returns the frames that became complete.
func (e *Extractor) Push(samples []float64) []label.Frame {
	for _, s := range samples {
		y := s
		if e.started {
			y -= e.cfg.PreEmphasis * e.prev
		}
		e.prev, e.started = s, true
		e.pending = append(e.pending, y)
	}
	consumed := 0
	for len(e.pending)-consumed >= e.frameLen {
		e.statics = append(e.statics, e.analyze(e.pending[consumed:consumed+e.frameLen]))
		consumed += e.shift
	}
	e.pending = append(e.pending[:0], e.pending[min(consumed, len(e.pending)):]...)
	return e.drain(false)
}

// Flush emits the frames held back for delta context and starts a new
// segment. Deltas at the segment end repeat the last frame.
func (e *Extractor) Flush() []label.Frame {
	out := e.drain(true)
	e.Reset()
	return out
}

// Extract runs a whole signal through a fresh segment.
func (e *Extractor) Extract(samples []float64) []label.Frame {
	e.Reset()
	return append(e.Push(samples), e.Flush()...)
}

// Frames reports how many frames a signal of n samples yields.
func (c Config) Frames(n int) int {
	if n < c.frameLength() {
		return 0
	}
	return 1 + (n-c.frameLength())/c.frameShift()
}

func (e *Extractor) drain(final bool) []label.Frame {
	total := e.base + len(e.statics)
	limit := total - e.reach()
	if final {
		limit = total
	}
	var out []label.Frame
	for ; e.emitted < limit; e.emitted++ {
		out = append(out, e.frame(e.emitted, total))
	}
	// keep what later deltas still read
	if drop := e.emitted - e.reach() - e.base; drop > 0 && !final {
		e.statics = append(e.statics[:0], e.statics[drop:]...)
		e.base += drop
	}
	return out
}

// static returns static frame t clamped to [0, total).
func (e *Extractor) static(t, total int) []float64 {
	t = max(0, min(t, total-1))
	return e.statics[max(t-e.base, 0)]
}

// delta returns the order-th regression derivative at t.
func (e *Extractor) delta(order, t, total int) []float64 {
	dim := e.cfg.StaticDim()
	out := make([]float64, dim)
	denom := 0.0
	for n := 1; n <= deltaWindow; n++ {
		denom += float64(2 * n * n)
	}
	at := func(i int) []float64 {
		i = max(0, min(i, total-1))
		if order == 1 {
			return e.static(i, total)
		}
		return e.delta(order-1, i, total)
	}
	for n := 1; n <= deltaWindow; n++ {
		fwd, bwd := at(t+n), at(t-n)
		for d := range out {
			out[d] += float64(n) * (fwd[d] - bwd[d])
		}
	}
	for d := range out {
		out[d] /= denom
	}
	return out
}

func (e *Extractor) frame(t, total int) label.Frame {
	st := e.static(t, total)
	f := make(label.Frame, 0, e.Dim())
	for _, v := range st {
		f = append(f, float32(v))
	}
	for order := 1; order <= e.cfg.Deltas; order++ {
		for _, v := range e.delta(order, t, total) {
			f = append(f, float32(v))
		}
	}
	return f
}

// analyze computes the static features of one pre-emphasized window.
func (e *Extractor) analyze(samples []float64) []float64 {
	for i, s := range samples {
		e.fftIn[i] = s * e.window[i]
	}
	clear(e.fftIn[len(samples):])
	e.coeffs = e.fft.Coefficients(e.coeffs, e.fftIn)
	n := float64(len(e.fftIn))
	for i, c := range e.coeffs {
		e.power[i] = (real(c)*real(c) + imag(c)*imag(c)) / n
	}

	logMel := e.mel.apply(e.power)
	st := logMel
	if e.dct != nil {
		st = make([]float64, len(e.dct))
		for k, row := range e.dct {
			for j, c := range row {
				st[k] += logMel[j] * c
			}
			if e.lifter != nil {
				st[k] *= e.lifter[k]
			}
		}
	}

	if e.cfg.CMN {
		e.meanSeen++
		for d, v := range st {
			e.meanSum[d] += v
			st[d] = v - e.meanSum[d]/float64(e.meanSeen)
		}
	}
	return st
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
