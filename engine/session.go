package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrIO reports a mismatch between the expected and the actual model
// inputs or outputs.
var ErrIO = errors.New("engine: model io mismatch")

// Input is one named session input.
type Input struct {
	Name  string
	Value *Tensor
}

// Session runs a model. Implementations serialize their own internal state;
// callers do not issue concurrent runs on one session.
type Session interface {
	// Run computes the named outputs, in the order requested.
	Run(ctx context.Context, inputs []Input, outputs []string) ([]*Tensor, error)
	InputNames() []string
	OutputNames() []string
	// Metadata returns the model's custom metadata map.
	Metadata() map[string]string
}

// IOMap renames logical roles ("scores", "history", ...) to model-specific
// input and output names. Unmapped roles use the role name itself.
type IOMap struct {
	Inputs  map[string]string `yaml:"inputs,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// IOSpec declares one role a scorer expects from a model.
type IOSpec struct {
	Role     string
	Output   bool
	Optional bool
}

// Resolve maps every role in specs to a model name. A required role that
// the model lacks, or a mapping pointing at a name the model lacks, is an
// ErrIO. Optional roles missing from the model resolve to "".
func (m IOMap) Resolve(s Session, specs []IOSpec) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	for _, sp := range specs {
		names, mapping, kind := s.InputNames(), m.Inputs, "input"
		if sp.Output {
			names, mapping, kind = s.OutputNames(), m.Outputs, "output"
		}
		name, mapped := mapping[sp.Role]
		if !mapped {
			name = sp.Role
		}
		if slices.Contains(names, name) {
			out[sp.Role] = name
			continue
		}
		if sp.Optional && !mapped {
			out[sp.Role] = ""
			continue
		}
		return nil, fmt.Errorf("%w: %s %q for role %q not in model %v", ErrIO, kind, name, sp.Role, names)
	}
	return out, nil
}

// HasInput reports whether the session declares input name.
func HasInput(s Session, name string) bool { return slices.Contains(s.InputNames(), name) }

// HasOutput reports whether the session declares output name.
func HasOutput(s Session, name string) bool { return slices.Contains(s.OutputNames(), name) }
