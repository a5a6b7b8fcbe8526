// Package frontend turns audio into feature frames for the scorers. The
// Extractor is incremental: samples are pushed as they arrive and frames
// come out as soon as their analysis window and delta context are complete.
package frontend

import (
	"fmt"
	"math"

	"github.com/ieee0824/labelscore/label"
)

// Feature kinds.
const (
	MFCC   = "mfcc"
	LogMel = "log-mel"
)

// Config holds the analysis parameters.
type Config struct {
	Kind          string  `yaml:"kind" validate:"oneof=mfcc log-mel"`
	SampleRate    int     `yaml:"sample-rate" validate:"gt=0"`
	FrameLengthMs float64 `yaml:"frame-length-ms" validate:"gt=0"`
	FrameShiftMs  float64 `yaml:"frame-shift-ms" validate:"gt=0"`
	PreEmphasis   float64 `yaml:"pre-emphasis" validate:"gte=0,lt=1"`
	MelFilters    int     `yaml:"mel-filters" validate:"gt=0"`
	// Cepstra is the number of MFCC coefficients kept. Unused for log-mel.
	Cepstra  int     `yaml:"cepstra" validate:"gte=0"`
	LowFreq  float64 `yaml:"low-freq" validate:"gte=0"`
	HighFreq float64 `yaml:"high-freq" validate:"gte=0"` // 0: Nyquist
	FFTSize  int     `yaml:"fft-size" validate:"gte=0"`  // 0: smallest power of two covering a frame
	Lifter   int     `yaml:"lifter" validate:"gte=0"`
	// Deltas appends the first (1) or first and second (2) derivatives.
	Deltas int `yaml:"deltas" validate:"gte=0,lte=2"`
	// CMN subtracts the running mean of the static features.
	CMN bool `yaml:"cmn"`
}

// DefaultConfig returns 39-dimensional MFCC at 16 kHz with 25 ms frames
// every 10 ms.
func DefaultConfig() Config {
	return Config{
		Kind:          MFCC,
		SampleRate:    16000,
		FrameLengthMs: 25,
		FrameShiftMs:  10,
		PreEmphasis:   0.97,
		MelFilters:    26,
		Cepstra:       13,
		Lifter:        22,
		Deltas:        2,
		CMN:           true,
	}
}

func (c Config) frameLength() int { return int(c.FrameLengthMs * float64(c.SampleRate) / 1000) }
func (c Config) frameShift() int  { return int(c.FrameShiftMs * float64(c.SampleRate) / 1000) }

func (c Config) highFreq() float64 {
	if c.HighFreq == 0 {
		return float64(c.SampleRate) / 2
	}
	return c.HighFreq
}

func (c Config) fftSize() int {
	if c.FFTSize > 0 {
		return c.FFTSize
	}
	n := 1
	for n < c.frameLength() {
		n <<= 1
	}
	return n
}

// StaticDim is the width of a frame before deltas.
func (c Config) StaticDim() int {
	if c.Kind == LogMel {
		return c.MelFilters
	}
	return c.Cepstra
}

// Dim is the width of an output frame.
func (c Config) Dim() int { return c.StaticDim() * (1 + c.Deltas) }

// Check verifies the relations between fields that struct tags cannot
// express. Errors wrap label.ErrConfig.
func (c Config) Check() error {
	switch {
	case c.frameLength() < 2:
		return label.Configf("frontend: frame of %d samples", c.frameLength())
	case c.frameShift() < 1 || c.frameShift() > c.frameLength():
		return label.Configf("frontend: frame shift of %d samples for %d-sample frames", c.frameShift(), c.frameLength())
	case c.fftSize() < c.frameLength():
		return label.Configf("frontend: fft size %d below frame length %d", c.fftSize(), c.frameLength())
	case c.highFreq() > float64(c.SampleRate)/2:
		return label.Configf("frontend: high-freq %g above Nyquist", c.highFreq())
	case c.LowFreq >= c.highFreq():
		return label.Configf("frontend: low-freq %g not below high-freq %g", c.LowFreq, c.highFreq())
	case c.Kind == MFCC && (c.Cepstra == 0 || c.Cepstra > c.MelFilters):
		return label.Configf("frontend: %d cepstra from %d mel filters", c.Cepstra, c.MelFilters)
	}
	return nil
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

func (c Config) String() string {
	return fmt.Sprintf("%s %d-dim @%dHz %gms/%gms", c.Kind, c.Dim(), c.SampleRate, c.FrameLengthMs, c.FrameShiftMs)
}
