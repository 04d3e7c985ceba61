package sngan_go

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorVariant Closed set of generator architectures
type GeneratorVariant uint16

const (
	GeneratorBaseline = GeneratorVariant(iota)
	GeneratorTest
)

func (v GeneratorVariant) String() string {
	switch v {
	case GeneratorBaseline:
		return "baseline"
	case GeneratorTest:
		return "test"
	default:
		return fmt.Sprintf("generator_variant_%d", v)
	}
}

// ParseGeneratorVariant Resolves generator variant by name
func ParseGeneratorVariant(name string) (GeneratorVariant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "baseline":
		return GeneratorBaseline, nil
	case "test":
		return GeneratorTest, nil
	default:
		return 0, configErrorf("unknown generator type '%s' (expected 'baseline' or 'test')", name)
	}
}

// GeneratorFunc Builds generator on top of latent code z [batch, z_dim] and one-hot class vector [batch, num_classes].
// Returns flattened images [batch, image size] in range [-1;1].
type GeneratorFunc func(scope *VariableScope, z, classOneHot *gorgonia.Node, gfDim, numClasses int, imageShape ImageShape, reuse bool) (*gorgonia.Node, error)

// Func Returns builder for variant
func (v GeneratorVariant) Func() (GeneratorFunc, error) {
	switch v {
	case GeneratorBaseline:
		return GeneratorBaselineFunc, nil
	case GeneratorTest:
		return GeneratorTestFunc, nil
	default:
		return nil, configErrorf("generator variant %d is not handled", v)
	}
}

// GeneratorBaselineFunc Three fully connected layers with widths 4*gfDim and 2*gfDim
func GeneratorBaselineFunc(scope *VariableScope, z, classOneHot *gorgonia.Node, gfDim, numClasses int, imageShape ImageShape, reuse bool) (*gorgonia.Node, error) {
	return buildGenerator(scope, z, classOneHot, []int{4 * gfDim, 2 * gfDim}, numClasses, imageShape, reuse)
}

// GeneratorTestFunc Small generator with single hidden layer of width gfDim
func GeneratorTestFunc(scope *VariableScope, z, classOneHot *gorgonia.Node, gfDim, numClasses int, imageShape ImageShape, reuse bool) (*gorgonia.Node, error) {
	return buildGenerator(scope, z, classOneHot, []int{gfDim}, numClasses, imageShape, reuse)
}

func buildGenerator(scope *VariableScope, z, classOneHot *gorgonia.Node, hidden []int, numClasses int, imageShape ImageShape, reuse bool) (*gorgonia.Node, error) {
	zShape := z.Shape()
	if len(zShape) != 2 {
		return nil, errors.Errorf("latent code must be matrix [batch, z_dim], but got shape %v", zShape)
	}
	if classOneHot.Shape()[1] != numClasses {
		return nil, errors.Errorf("class vector must have %d columns, but got shape %v", numClasses, classOneHot.Shape())
	}
	batchSize := zShape[0]
	input, err := gorgonia.Concat(1, z, classOneHot)
	if err != nil {
		return nil, errors.Wrap(err, "Can't concatenate latent code and class vector")
	}

	in := zShape[1] + numClasses
	layers := make([]*Layer, 0, len(hidden)+1)
	for i, units := range hidden {
		l, err := newDenseLayer(scope, denseSpec{
			Name:       fmt.Sprintf("g_fc%d", i),
			Role:       RoleGenerator,
			In:         in,
			Out:        units,
			Activation: Rectify,
		}, reuse, nil)
		if err != nil {
			return nil, errors.Wrap(err, "[Generator]")
		}
		layers = append(layers, l)
		in = units
	}
	out, err := newDenseLayer(scope, denseSpec{
		Name:       "g_out",
		Role:       RoleGenerator,
		In:         in,
		Out:        imageShape.Size(),
		Activation: Tanh,
	}, reuse, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	layers = append(layers, out)

	net := &Network{Name: "generator", Layers: layers}
	if err := net.Fwd(input, batchSize); err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return net.Out(), nil
}
