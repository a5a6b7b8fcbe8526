// Package labelscore builds scorer trees from configuration. A tree is a
// label.Scorer assembled from the strategies in the label, neural and
// language packages, with its engine sessions opened and instrumented.
package labelscore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ieee0824/labelscore/decoder"
	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/engine/onnx"
	"github.com/ieee0824/labelscore/label"
	"github.com/ieee0824/labelscore/language"
	"github.com/ieee0824/labelscore/neural"
)

// Scorer is a configured scorer tree. Close releases the engine sessions
// it opened.
type Scorer struct {
	label.Scorer
	closers []io.Closer
}

// Close releases every session opened for the tree. Sessions registered
// with WithSession are left alone.
func (s *Scorer) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Decode runs one segment through a greedy decoder.
func (s *Scorer) Decode(ctx context.Context, frames []label.Frame, cfg decoder.Config, opts ...decoder.Option) (*decoder.Result, error) {
	return decoder.Decode(ctx, s.Scorer, frames, cfg, opts...)
}

// Option configures New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	sessions map[string]engine.Session
	openONNX func(onnx.Config) (engine.Session, io.Closer, error)
}

// WithLogger sets the logger handed to every scorer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSession registers a session that model configs can refer to by name.
func WithSession(name string, s engine.Session) Option {
	return func(o *options) { o.sessions[name] = s }
}

func openONNX(cfg onnx.Config) (engine.Session, io.Closer, error) {
	s, err := onnx.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

// New builds the scorer tree described by cfg.
func New(cfg ScorerConfig, opts ...Option) (*Scorer, error) {
	o := options{logger: slog.Default(), sessions: map[string]engine.Session{}, openONNX: openONNX}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", label.ErrConfig, describe(err))
	}
	if err := cfg.check("scorer"); err != nil {
		return nil, err
	}
	b := &builder{opts: o}
	root, err := b.build(cfg, "scorer")
	if err != nil {
		_ = (&Scorer{closers: b.closers}).Close()
		return nil, err
	}
	return &Scorer{Scorer: root, closers: b.closers}, nil
}

type builder struct {
	opts    options
	closers []io.Closer
}

func (b *builder) session(m ModelConfig, path string) (engine.Session, error) {
	if m.Session != "" {
		s, ok := b.opts.sessions[m.Session]
		if !ok {
			return nil, label.Configf("%s: no session registered as %q", path, m.Session)
		}
		return s, nil
	}
	s, c, err := b.opts.openONNX(*m.ONNX)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b.closers = append(b.closers, c)
	return s, nil
}

func (b *builder) statefulSessions(m StatefulModels, path string) (neural.StatefulSessions, error) {
	var models neural.StatefulSessions
	var err error
	if models.Initializer, err = b.session(m.Initializer, path+".models.initializer"); err != nil {
		return models, err
	}
	if models.Updater, err = b.session(m.Updater, path+".models.updater"); err != nil {
		return models, err
	}
	if models.Scorer, err = b.session(m.Scorer, path+".models.scorer"); err != nil {
		return models, err
	}
	return models, nil
}

func (b *builder) build(c ScorerConfig, path string) (label.Scorer, error) {
	logger := b.opts.logger
	if c.Name != "" {
		logger = logger.With("node", c.Name)
	}

	switch c.Type {
	case TypeStepwise:
		return label.NewStepwise(logger), nil

	case TypeNoContext:
		sess, err := b.session(c.Model, path+".model")
		if err != nil {
			return nil, err
		}
		s, err := neural.NewNoContext(sess, c.NoContext, logger)
		return wrap(s, err, path)

	case TypeLimitedContext:
		sess, err := b.session(c.Model, path+".model")
		if err != nil {
			return nil, err
		}
		s, err := neural.NewLimited(sess, c.Limited, logger)
		return wrap(s, err, path)

	case TypeStateful:
		models, err := b.statefulSessions(c.Models, path)
		if err != nil {
			return nil, err
		}
		s, err := neural.NewStateful(models, c.Stateful, logger)
		return wrap(s, err, path)

	case TypeTransducer:
		models, err := b.statefulSessions(c.Models, path)
		if err != nil {
			return nil, err
		}
		s, err := neural.NewTransducer(models, c.Transducer, logger)
		return wrap(s, err, path)

	case TypeCombine:
		subs := make([]label.Scorer, len(c.Scorers))
		for i, sc := range c.Scorers {
			sub, err := b.build(sc, fmt.Sprintf("%s.scorers[%d]", path, i))
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		scales := c.Scales
		if len(scales) == 0 {
			scales = make([]float64, len(subs))
			for i := range scales {
				scales[i] = 1
			}
		}
		s, err := label.NewCombine(subs, scales, label.CombineParallel(c.Parallel))
		return wrap(s, err, path)

	case TypeTransition:
		sub, err := b.build(*c.Scorer, path+".scorer")
		if err != nil {
			return nil, err
		}
		return label.NewTransition(sub, c.Transitions), nil

	case TypeCTCPrefix:
		sub, err := b.build(*c.Scorer, path+".scorer")
		if err != nil {
			return nil, err
		}
		s, err := label.NewCTCPrefix(sub, c.VocabSize, c.Blank, logger)
		return wrap(s, err, path)

	case TypeNGram:
		model, err := loadLM(c.ARPA, c.Vocabulary)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logger.Debug("language model loaded",
			"path", c.ARPA, "order", model.Order(), "vocabulary", model.Vocabulary().Len())
		return language.NewScorer(model, logger), nil
	}
	return nil, label.Configf("%s: unknown scorer type %q", path, c.Type)
}

// wrap avoids returning a typed nil inside a non-nil interface.
func wrap[S label.Scorer](s S, err error, path string) (label.Scorer, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func loadLM(arpaPath, vocabPath string) (*language.Model, error) {
	var vocab *language.Vocabulary
	if vocabPath != "" {
		f, err := os.Open(vocabPath)
		if err != nil {
			return nil, fmt.Errorf("open vocabulary: %w", err)
		}
		defer f.Close()
		if vocab, err = language.LoadVocabulary(f); err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
	}
	f, err := os.Open(arpaPath)
	if err != nil {
		return nil, fmt.Errorf("open language model: %w", err)
	}
	defer f.Close()
	model, err := language.LoadARPA(f, vocab)
	if err != nil {
		return nil, fmt.Errorf("load language model: %w", err)
	}
	return model, nil
}
