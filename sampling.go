package sngan_go

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// ClassSampler Draws class indices from categorical distribution given by logits
type ClassSampler struct {
	numClasses int
	dist       distuv.Categorical
}

// NewClassSampler Returns sampler over softmax(logits)
func NewClassSampler(logits []float64, src rand.Source) *ClassSampler {
	lse := floats.LogSumExp(logits)
	weights := make([]float64, len(logits))
	for i, l := range logits {
		weights[i] = math.Exp(l - lse)
	}
	return &ClassSampler{
		numClasses: len(logits),
		dist:       distuv.NewCategorical(weights, src),
	}
}

// NewUniformClassSampler Returns sampler over all-zero logits, i.e. uniform over classes
func NewUniformClassSampler(numClasses int, src rand.Source) *ClassSampler {
	return NewClassSampler(make([]float64, numClasses), src)
}

// NumClasses Returns number of classes
func (s *ClassSampler) NumClasses() int {
	return s.numClasses
}

// Sample Draws n class indices
func (s *ClassSampler) Sample(n int) []int {
	ret := make([]int, n)
	for i := range ret {
		ret[i] = int(s.dist.Rand())
	}
	return ret
}

// SampleOneHot Draws n class indices and returns them one-hot encoded [n, num_classes]
func (s *ClassSampler) SampleOneHot(n int) *tensor.Dense {
	return OneHot(s.Sample(n), s.numClasses)
}
