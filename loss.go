package sngan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(a *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(a)
	case LossReductionMean:
		return gorgonia.Mean(a)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// DiscriminatorRealLoss Hinge loss of discriminator on real data: max(0, 1 - logits)
// Default reduction is 'mean'
func DiscriminatorRealLoss(logits *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(constantLike(logits, 1.0), logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	hinge, err := gorgonia.Rectify(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(0,x)")
	}
	return reduce(hinge, reduction)
}

// DiscriminatorFakeLoss Hinge loss of discriminator on generated data: max(0, 1 + logits)
// Default reduction is 'mean'
func DiscriminatorFakeLoss(logits *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	add, err := gorgonia.Add(constantLike(logits, 1.0), logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1+A)")
	}
	hinge, err := gorgonia.Rectify(add)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(0,x)")
	}
	return reduce(hinge, reduction)
}

// GeneratorLoss Adversarial loss of generator: -logits
// Default reduction is 'mean'
func GeneratorLoss(logits *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	reduced, err := reduce(logits, reduction)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Neg(reduced)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return neg, nil
}
