package sngan_go

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DiscriminatorVariant Closed set of discriminator architectures
type DiscriminatorVariant uint16

const (
	DiscriminatorBaseline = DiscriminatorVariant(iota)
	DiscriminatorTest
)

func (v DiscriminatorVariant) String() string {
	switch v {
	case DiscriminatorBaseline:
		return "baseline"
	case DiscriminatorTest:
		return "test"
	default:
		return fmt.Sprintf("discriminator_variant_%d", v)
	}
}

// ParseDiscriminatorVariant Resolves discriminator variant by name
func ParseDiscriminatorVariant(name string) (DiscriminatorVariant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "baseline":
		return DiscriminatorBaseline, nil
	case "test":
		return DiscriminatorTest, nil
	default:
		return 0, configErrorf("unknown discriminator type '%s' (expected 'baseline' or 'test')", name)
	}
}

// DiscriminatorFunc Builds discriminator for flattened images [batch, image size] and one-hot labels [batch, num_classes].
// Returns raw logits [batch, 1].
//
// updates - collection for power iteration steps. Pass nil when running statistics must not be updated by this call.
//
type DiscriminatorFunc func(scope *VariableScope, images, labels *gorgonia.Node, dfDim, numClasses int, reuse bool, updates *UpdateCollection) (*gorgonia.Node, error)

// Func Returns builder for variant
func (v DiscriminatorVariant) Func() (DiscriminatorFunc, error) {
	switch v {
	case DiscriminatorBaseline:
		return DiscriminatorBaselineFunc, nil
	case DiscriminatorTest:
		return DiscriminatorTestFunc, nil
	default:
		return nil, configErrorf("discriminator variant %d is not handled", v)
	}
}

// DiscriminatorBaselineFunc Two spectrally normalized hidden layers (2*dfDim, dfDim) with class projection
func DiscriminatorBaselineFunc(scope *VariableScope, images, labels *gorgonia.Node, dfDim, numClasses int, reuse bool, updates *UpdateCollection) (*gorgonia.Node, error) {
	return buildDiscriminator(scope, images, labels, []int{2 * dfDim, dfDim}, numClasses, reuse, updates)
}

// DiscriminatorTestFunc Single spectrally normalized hidden layer with class projection
func DiscriminatorTestFunc(scope *VariableScope, images, labels *gorgonia.Node, dfDim, numClasses int, reuse bool, updates *UpdateCollection) (*gorgonia.Node, error) {
	return buildDiscriminator(scope, images, labels, []int{dfDim}, numClasses, reuse, updates)
}

func buildDiscriminator(scope *VariableScope, images, labels *gorgonia.Node, hidden []int, numClasses int, reuse bool, updates *UpdateCollection) (*gorgonia.Node, error) {
	imgShape := images.Shape()
	if len(imgShape) != 2 {
		return nil, errors.Errorf("images must be matrix [batch, size], but got shape %v", imgShape)
	}
	if labels.Shape()[1] != numClasses {
		return nil, errors.Errorf("labels must have %d columns, but got shape %v", numClasses, labels.Shape())
	}
	batchSize := imgShape[0]

	in := imgShape[1]
	layers := make([]*Layer, 0, len(hidden))
	for i, units := range hidden {
		l, err := newDenseLayer(scope, denseSpec{
			Name:       fmt.Sprintf("d_fc%d", i),
			Role:       RoleDiscriminator,
			In:         in,
			Out:        units,
			Activation: Rectify,
			Spectral:   true,
		}, reuse, updates)
		if err != nil {
			return nil, errors.Wrap(err, "[Discriminator]")
		}
		layers = append(layers, l)
		in = units
	}
	net := &Network{Name: "discriminator", Layers: layers}
	if err := net.Fwd(images, batchSize); err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	features := net.Out()

	head, err := newDenseLayer(scope, denseSpec{
		Name:     "d_out",
		Role:     RoleDiscriminator,
		In:       in,
		Out:      1,
		Spectral: true,
	}, reuse, updates)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	logits, err := head.Fwd(batchSize, features)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't feedforward head")
	}

	// Projection term: <embed(y), features>
	embedding, err := newDenseLayer(scope, denseSpec{
		Name:     "d_embed",
		Role:     RoleDiscriminator,
		In:       in,
		Out:      numClasses,
		Spectral: true,
		NoBias:   true,
	}, reuse, updates)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	embedded, err := gorgonia.Mul(labels, embedding.WeightNode)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't embed labels")
	}
	prod, err := gorgonia.HadamardProd(embedded, features)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't do (embed.*features)")
	}
	projection, err := gorgonia.Sum(prod, 1)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't reduce projection")
	}
	projection, err = gorgonia.Reshape(projection, tensor.Shape{batchSize, 1})
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't reshape projection")
	}
	logits, err = gorgonia.Add(logits, projection)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't add projection to logits")
	}
	gorgonia.WithName("discriminator_logits")(logits)
	return logits, nil
}
