package labelscore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ieee0824/labelscore/decoder"
	"github.com/ieee0824/labelscore/engine/onnx"
	"github.com/ieee0824/labelscore/frontend"
	"github.com/ieee0824/labelscore/label"
	"github.com/ieee0824/labelscore/neural"
)

// Scorer type names accepted in ScorerConfig.Type.
const (
	TypeStepwise       = "stepwise"
	TypeNoContext      = "no-context"
	TypeLimitedContext = "limited-context"
	TypeStateful       = "stateful"
	TypeTransducer     = "transducer"
	TypeCombine        = "combine"
	TypeTransition     = "transition"
	TypeCTCPrefix      = "ctc-prefix"
	TypeNGram          = "ngram"
)

// Config is a complete configuration file.
type Config struct {
	Scorer   ScorerConfig    `yaml:"scorer"`
	Decoder  decoder.Config  `yaml:"decoder"`
	Frontend frontend.Config `yaml:"frontend"`
	LogLevel string          `yaml:"log-level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns frame-synchronous decoding of 39-dimensional MFCC
// at info level. The scorer tree has to be supplied.
func DefaultConfig() Config {
	return Config{
		Scorer:   DefaultScorerConfig(),
		Decoder:  decoder.DefaultConfig(),
		Frontend: frontend.DefaultConfig(),
		LogLevel: "info",
	}
}

// ModelConfig points at an engine session: either one registered with
// WithSession, or an ONNX model file.
type ModelConfig struct {
	Session string       `yaml:"session"`
	ONNX    *onnx.Config `yaml:"onnx"`
}

// StatefulModels names the three models of a stateful or transducer scorer.
type StatefulModels struct {
	Initializer ModelConfig `yaml:"initializer"`
	Updater     ModelConfig `yaml:"updater"`
	Scorer      ModelConfig `yaml:"scorer"`
}

// ScorerConfig is one node of a scorer tree. Which fields apply depends on
// Type.
type ScorerConfig struct {
	Type string `yaml:"type" validate:"required,oneof=stepwise no-context limited-context stateful transducer combine transition ctc-prefix ngram"`
	// Name tags log lines of this node.
	Name string `yaml:"name"`

	// combine
	Scorers  []ScorerConfig `yaml:"scorers" validate:"dive"`
	Scales   []float64      `yaml:"scales"`
	Parallel bool           `yaml:"parallel"`

	// transition and ctc-prefix wrap one sub-scorer
	Scorer      *ScorerConfig          `yaml:"scorer"`
	Transitions label.TransitionScores `yaml:"transitions"`
	VocabSize   int                    `yaml:"vocab-size" validate:"gte=0"`
	Blank       label.TokenID          `yaml:"blank" validate:"gte=0"`

	// engine-backed scorers
	Model      ModelConfig             `yaml:"model"`
	Models     StatefulModels          `yaml:"models"`
	NoContext  neural.NoContextConfig  `yaml:"no-context"`
	Limited    neural.LimitedConfig    `yaml:"limited-context"`
	Stateful   neural.StatefulConfig   `yaml:"stateful"`
	Transducer neural.TransducerConfig `yaml:"transducer"`

	// ngram
	ARPA       string `yaml:"arpa"`
	Vocabulary string `yaml:"vocabulary"`
}

// DefaultScorerConfig returns a node with the neural scorers' defaults.
// Type and the type-specific fields are left for the caller.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		NoContext:  neural.DefaultNoContextConfig(),
		Limited:    neural.DefaultLimitedConfig(),
		Stateful:   neural.DefaultStatefulConfig(),
		Transducer: neural.DefaultTransducerConfig(),
	}
}

// UnmarshalYAML fills unset fields with their defaults, so nested nodes
// get the same defaults as the root.
func (c *ScorerConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain ScorerConfig
	p := plain(DefaultScorerConfig())
	if err := n.Decode(&p); err != nil {
		return err
	}
	*c = ScorerConfig(p)
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the per-type requirements of every
// node. Errors wrap label.ErrConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", label.ErrConfig, describe(err))
	}
	if err := c.Frontend.Check(); err != nil {
		return err
	}
	return c.Scorer.check("scorer")
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func (m ModelConfig) check(path string) error {
	if (m.Session == "") == (m.ONNX == nil) {
		return label.Configf("%s: set exactly one of session and onnx", path)
	}
	return nil
}

func (c ScorerConfig) check(path string) error {
	switch c.Type {
	case TypeNoContext, TypeLimitedContext:
		return c.Model.check(path + ".model")
	case TypeStateful, TypeTransducer:
		return errors.Join(
			c.Models.Initializer.check(path+".models.initializer"),
			c.Models.Updater.check(path+".models.updater"),
			c.Models.Scorer.check(path+".models.scorer"),
		)
	case TypeCombine:
		if len(c.Scorers) == 0 {
			return label.Configf("%s: combine without scorers", path)
		}
		if len(c.Scales) != 0 && len(c.Scales) != len(c.Scorers) {
			return label.Configf("%s: %d scales for %d scorers", path, len(c.Scales), len(c.Scorers))
		}
		var errs []error
		for i, sub := range c.Scorers {
			errs = append(errs, sub.check(fmt.Sprintf("%s.scorers[%d]", path, i)))
		}
		return errors.Join(errs...)
	case TypeTransition, TypeCTCPrefix:
		if c.Scorer == nil {
			return label.Configf("%s: %s needs a scorer", path, c.Type)
		}
		if c.Type == TypeCTCPrefix && (c.VocabSize <= 0 || int(c.Blank) >= c.VocabSize) {
			return label.Configf("%s: vocab-size %d with blank %d", path, c.VocabSize, c.Blank)
		}
		if c.Type == TypeCTCPrefix && (c.Scorer.Type == TypeTransition || c.Scorer.readiness() != label.ReadyPerFrame) {
			return label.Configf("%s: ctc-prefix needs a per-frame emission scorer, got %s", path, c.Scorer.Type)
		}
		return c.Scorer.check(path + ".scorer")
	case TypeNGram:
		if c.ARPA == "" {
			return label.Configf("%s: ngram needs an arpa file", path)
		}
	}
	return nil
}

// readiness mirrors the Readiness of the scorer the node builds.
func (c ScorerConfig) readiness() label.Readiness {
	switch c.Type {
	case TypeNGram:
		return label.ReadyAlways
	case TypeStateful, TypeCTCPrefix:
		return label.ReadyAtSegmentEnd
	case TypeTransition:
		if c.Scorer != nil {
			return c.Scorer.readiness()
		}
	case TypeCombine:
		r := label.ReadyAlways
		for _, sub := range c.Scorers {
			r = label.Stricter(r, sub.readiness())
		}
		return r
	}
	return label.ReadyPerFrame
}

// LoadConfig decodes and validates a YAML configuration. Unknown top-level
// and decoder keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: decode yaml: %w", label.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads LoadConfig input from path.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
