package sngan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunction combo
//
// WeightNode - effective weights with shape [out, in] (already normalized for spectral layers)
// BiasNode - bias with shape [1, out], could be nil
// Spectral - spectral normalization state, nil for plain layers
//
type Layer struct {
	Name       string
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Spectral   *SpectralNorm
}

// denseSpec Description of fully connected layer
type denseSpec struct {
	Name       string
	Role       Role
	In         int
	Out        int
	Activation ActivationFunc
	Spectral   bool
	NoBias     bool
}

// newDenseLayer Gets layer's variables from scope (creates or reuses them) and prepares effective weights
func newDenseLayer(scope *VariableScope, spec denseSpec, reuse bool, updates *UpdateCollection) (*Layer, error) {
	weight, weightNode, err := scope.GetVariable(VariableSpec{
		Name:  spec.Name + "_w",
		Role:  spec.Role,
		Shape: tensor.Shape{spec.Out, spec.In},
		Init:  gorgonia.GlorotN(1.0),
	}, reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't get weights of layer '%s'", spec.Name)
	}
	layer := &Layer{
		Name:       spec.Name,
		WeightNode: weightNode,
		Activation: spec.Activation,
	}
	if layer.Activation == nil {
		layer.Activation = NoActivation
	}
	if !spec.NoBias {
		_, biasNode, err := scope.GetVariable(VariableSpec{
			Name:  spec.Name + "_b",
			Role:  spec.Role,
			Shape: tensor.Shape{1, spec.Out},
			Init:  gorgonia.Zeroes(),
		}, reuse)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't get bias of layer '%s'", spec.Name)
		}
		layer.BiasNode = biasNode
	}
	if spec.Spectral {
		layer.Spectral, err = spectralNormalize(scope, spec.Name, weight, weightNode, reuse, updates)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't normalize weights of layer '%s'", spec.Name)
		}
		layer.WeightNode = layer.Spectral.Normalized
	}
	return layer, nil
}

// Fwd Initializates feedforward for provided input (before activation)
//
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// input - Input node
//
func (l *Layer) Fwd(batchSize int, input *gorgonia.Node) (*gorgonia.Node, error) {
	if l.WeightNode == nil {
		return nil, fmt.Errorf("Layer '%s' has nil weight node", l.Name)
	}
	tOp, err := gorgonia.Transpose(l.WeightNode)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't transpose weights of layer '%s'", l.Name)
	}
	nonActivated, err := gorgonia.Mul(input, tOp)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't multiply input and weights of layer '%s'", l.Name)
	}
	if l.BiasNode == nil {
		return nonActivated, nil
	}
	if batchSize < 2 {
		nonActivated, err = gorgonia.Add(nonActivated, l.BiasNode)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't add bias to non-activated output of layer '%s'", l.Name)
		}
		return nonActivated, nil
	}
	nonActivated, err = gorgonia.BroadcastAdd(nonActivated, l.BiasNode, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't add [in broadcast term with batch_size = %d] bias to non-activated output of layer '%s'", batchSize, l.Name)
	}
	return nonActivated, nil
}
