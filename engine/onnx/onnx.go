// Package onnx adapts onnxruntime sessions to engine.Session.
package onnx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/singleflight"

	"github.com/ieee0824/labelscore/engine"
)

var (
	envGroup       singleflight.Group
	envMu          sync.Mutex
	envInitialized bool
)

// InitEnvironment loads the onnxruntime shared library once per process.
// libPath may be empty to use the library's default search.
func InitEnvironment(libPath string) error {
	_, err, _ := envGroup.Do("env", func() (any, error) {
		envMu.Lock()
		defer envMu.Unlock()
		if envInitialized {
			return nil, nil
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
		envInitialized = true
		return nil, nil
	})
	return err
}

// Config locates a model and tunes its sessions.
type Config struct {
	Path           string `yaml:"path" validate:"required"`
	SharedLibrary  string `yaml:"shared-library"`
	IntraOpThreads int    `yaml:"intra-op-threads" validate:"gte=0"`
}

// Session runs one ONNX model. onnxruntime binds input and output names at
// session creation, so one runtime session is kept per name signature.
type Session struct {
	cfg     Config
	inputs  []string
	outputs []string
	meta    map[string]string

	mu       sync.Mutex
	sessions map[string]*ort.DynamicAdvancedSession
}

// Open inspects the model at cfg.Path. Runtime sessions are created on
// first use.
func Open(cfg Config) (*Session, error) {
	if err := InitEnvironment(cfg.SharedLibrary); err != nil {
		return nil, err
	}
	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read model io %s: %w", cfg.Path, err)
	}
	s := &Session{cfg: cfg, sessions: make(map[string]*ort.DynamicAdvancedSession)}
	for _, in := range inInfo {
		s.inputs = append(s.inputs, in.Name)
	}
	for _, out := range outInfo {
		s.outputs = append(s.outputs, out.Name)
	}
	if s.meta, err = readMetadata(cfg.Path); err != nil {
		return nil, err
	}
	return s, nil
}

func readMetadata(path string) (map[string]string, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("read model metadata %s: %w", path, err)
	}
	defer md.Destroy()
	keys, err := md.GetCustomMetadataMapKeys()
	if err != nil {
		return nil, fmt.Errorf("read model metadata keys %s: %w", path, err)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := md.LookupCustomMetadataMap(k)
		if err != nil {
			return nil, fmt.Errorf("read model metadata %q: %w", k, err)
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Session) InputNames() []string        { return s.inputs }
func (s *Session) OutputNames() []string       { return s.outputs }
func (s *Session) Metadata() map[string]string { return s.meta }

func signature(inputs, outputs []string) string {
	return strings.Join(inputs, ",") + "->" + strings.Join(outputs, ",")
}

func (s *Session) runtimeSession(inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
	key := signature(inputs, outputs)
	if rs, ok := s.sessions[key]; ok {
		return rs, nil
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if s.cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(s.cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	rs, err := ort.NewDynamicAdvancedSession(s.cfg.Path, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", s.cfg.Path, err)
	}
	s.sessions[key] = rs
	return rs, nil
}

// Run implements engine.Session.
func (s *Session) Run(ctx context.Context, inputs []engine.Input, outputs []string) ([]*engine.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(inputs))
	values := make([]ort.Value, len(inputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, in := range inputs {
		names[i] = in.Name
		v, err := toValue(in.Value)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		values[i] = v
	}

	rs, err := s.runtimeSession(names, outputs)
	if err != nil {
		return nil, err
	}
	outVals := make([]ort.Value, len(outputs))
	defer func() {
		for _, v := range outVals {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err := rs.Run(values, outVals); err != nil {
		return nil, fmt.Errorf("run %s: %w", s.cfg.Path, err)
	}

	result := make([]*engine.Tensor, len(outputs))
	for i, v := range outVals {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", outputs[i], err)
		}
		result[i] = t
	}
	return result, nil
}

// Close releases every runtime session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for k, rs := range s.sessions {
		if err := rs.Destroy(); err != nil && first == nil {
			first = err
		}
		delete(s.sessions, k)
	}
	return first
}

func toValue(t *engine.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch t.DType {
	case engine.Float32:
		return ort.NewTensor(shape, t.F32)
	case engine.Int32:
		return ort.NewTensor(shape, t.I32)
	case engine.Int64:
		return ort.NewTensor(shape, t.I64)
	}
	return nil, fmt.Errorf("unsupported dtype %s", t.DType)
}

// fromValue copies a runtime-owned output into Go memory.
func fromValue(v ort.Value) (*engine.Tensor, error) {
	switch tv := v.(type) {
	case *ort.Tensor[float32]:
		return engine.NewFloat32(append([]float32(nil), tv.GetData()...), tv.GetShape()...), nil
	case *ort.Tensor[int32]:
		return engine.NewInt32(append([]int32(nil), tv.GetData()...), tv.GetShape()...), nil
	case *ort.Tensor[int64]:
		return engine.NewInt64(append([]int64(nil), tv.GetData()...), tv.GetShape()...), nil
	}
	return nil, fmt.Errorf("unsupported output value %T", v)
}
