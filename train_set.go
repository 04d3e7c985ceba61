package sngan_go

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Example Single flattened image in range [-1;1] and its sparse class label
type Example struct {
	Image []float64
	Label int
}

// ExampleSource Random-access collection of examples
type ExampleSource interface {
	Len() int
	Example(i int) (Example, error)
}

// TrainSet In-memory dataset
//
// TrainData - images with shape [DataLength, image size]
// TrainLabel - sparse labels
//
type TrainSet struct {
	TrainData  *tensor.Dense
	TrainLabel []int
	DataLength int
}

// Len Returns number of examples
func (ts *TrainSet) Len() int {
	return ts.DataLength
}

// Example Returns copy of i-th example
func (ts *TrainSet) Example(i int) (Example, error) {
	if i < 0 || i >= ts.DataLength {
		return Example{}, errors.Errorf("example index %d is out of range [0;%d)", i, ts.DataLength)
	}
	shp := ts.TrainData.Shape()
	if len(shp) != 2 || shp[0] != ts.DataLength {
		return Example{}, errors.Errorf("train data must have shape [%d, size], but got %v", ts.DataLength, shp)
	}
	data, ok := ts.TrainData.Data().([]float64)
	if !ok {
		return Example{}, errors.Errorf("train data must be float64, but got %v", ts.TrainData.Dtype())
	}
	size := shp[1]
	img := make([]float64, size)
	copy(img, data[i*size:(i+1)*size])
	return Example{Image: img, Label: ts.TrainLabel[i]}, nil
}

// SyntheticSource Deterministic class-dependent patterns with noise. Example i has label i % numClasses.
type SyntheticSource struct {
	n          int
	numClasses int
	shape      ImageShape
	seed       uint64
	noise      float64
}

// NewSyntheticSource Returns synthetic dataset of n examples
func NewSyntheticSource(n, numClasses int, shape ImageShape, seed int64) *SyntheticSource {
	return &SyntheticSource{
		n:          n,
		numClasses: numClasses,
		shape:      shape,
		seed:       uint64(seed),
		noise:      0.2,
	}
}

// Len Returns number of examples
func (s *SyntheticSource) Len() int {
	return s.n
}

// Example Generates i-th example. Safe for concurrent use.
func (s *SyntheticSource) Example(i int) (Example, error) {
	if i < 0 || i >= s.n {
		return Example{}, errors.Errorf("example index %d is out of range [0;%d)", i, s.n)
	}
	label := i % s.numClasses
	noise := distuv.Uniform{Min: -1, Max: 1, Src: rand.NewSource(s.seed + uint64(i))}
	size := s.shape.Size()
	img := make([]float64, size)
	freq := float64(label + 1)
	for j := range img {
		pattern := math.Cos(2 * math.Pi * freq * float64(j) / float64(size))
		img[j] = (1-s.noise)*pattern + s.noise*noise.Rand()
	}
	return Example{Image: img, Label: label}, nil
}
