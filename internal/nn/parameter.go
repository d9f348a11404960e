package nn

import (
	"github.com/born-ml/ncsn/internal/tensor"
)

// Parameter is a named weight tensor.
//
// Names are dotted paths such as "preact_2.norm_1.gamma" and are the keys
// used in checkpoint files.
type Parameter struct {
	name   string
	tensor *tensor.Tensor
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func collect(modules ...Module) []*Parameter {
	var params []*Parameter
	for _, m := range modules {
		if m != nil {
			params = append(params, m.Parameters()...)
		}
	}
	return params
}
