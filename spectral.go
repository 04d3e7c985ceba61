package sngan_go

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SpectralNorm Spectrally normalized view of weight matrix W with shape [out, in].
//
// U - left singular vector estimate, shape [1, out] (not trainable)
// V - right singular vector estimate, shape [in, 1] (not trainable)
// SigmaRatio - diagnostic variable: ratio of sigma estimates after and before the last power iteration
// Sigma - scalar node u*W*v
// Normalized - W / sigma
//
type SpectralNorm struct {
	Weight     *Variable
	U          *Variable
	V          *Variable
	SigmaRatio *Variable
	Sigma      *gorgonia.Node
	Normalized *gorgonia.Node
}

// spectralNormalize Builds W / sigma(W) for provided weight and its node on scope's current binding. When updates is not
// nil, power iteration step for this weight is registered in it.
func spectralNormalize(scope *VariableScope, name string, weight *Variable, weightNode *gorgonia.Node, reuse bool, updates *UpdateCollection) (*SpectralNorm, error) {
	shp := weight.Shape()
	if len(shp) != 2 {
		return nil, errors.Errorf("spectral normalization needs matrix, but '%s' has shape %v", weight.Name, shp)
	}
	out, in := shp[0], shp[1]
	var uInit, vInit *tensor.Dense
	if !reuse && !scope.Reusing() {
		w, err := weight.Floats()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read weights of '%s'", weight.Name)
		}
		u, v := initialSingularVectors(w, out, in)
		uInit = tensor.New(tensor.WithShape(1, out), tensor.WithBacking(u))
		vInit = tensor.New(tensor.WithShape(in, 1), tensor.WithBacking(v))
	}
	sn := &SpectralNorm{Weight: weight}
	var uNode, vNode *gorgonia.Node
	var err error
	sn.U, uNode, err = scope.GetVariable(VariableSpec{Name: name + "_u", Role: weight.Role, Shape: tensor.Shape{1, out}, Value: valueOrNil(uInit), NonTrainable: true}, reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't get left singular vector of '%s'", weight.Name)
	}
	sn.V, vNode, err = scope.GetVariable(VariableSpec{Name: name + "_v", Role: weight.Role, Shape: tensor.Shape{in, 1}, Value: valueOrNil(vInit), NonTrainable: true}, reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't get right singular vector of '%s'", weight.Name)
	}
	sn.SigmaRatio, _, err = scope.GetVariable(VariableSpec{Name: name + "_" + diagnosticMarker, Role: weight.Role, Shape: tensor.ScalarShape(), Value: 1.0}, reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't get sigma ratio of '%s'", weight.Name)
	}

	uw, err := gorgonia.Mul(uNode, weightNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (u@W)")
	}
	uwv, err := gorgonia.Mul(uw, vNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (u@W@v)")
	}
	sn.Sigma, err = gorgonia.Sum(uwv)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reduce sigma to scalar")
	}
	gorgonia.WithName(fmt.Sprintf("%s%s_sigma", scope.Prefix(), name))(sn.Sigma)
	sn.Normalized, err = gorgonia.Div(weightNode, sn.Sigma)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (W/sigma)")
	}
	gorgonia.WithName(fmt.Sprintf("%s%s_sn", scope.Prefix(), name))(sn.Normalized)

	updates.Add(&PowerIteration{norm: sn})
	return sn, nil
}

// valueOrNil keeps interface nil when tensor is nil
func valueOrNil(t *tensor.Dense) interface{} {
	if t == nil {
		return nil
	}
	return t
}

func initialSingularVectors(w []float64, out, in int) (u, v []float64) {
	u = make([]float64, out)
	for i := range u {
		u[i] = 1 / math.Sqrt(float64(out))
	}
	wm := mat.NewDense(out, in, w)
	vv := mat.NewVecDense(in, nil)
	vv.MulVec(wm.T(), mat.NewVecDense(out, u))
	v = vv.RawVector().Data
	normalize(v)
	return u, v
}

// normalize Scales x to unit L2 norm in place. Zero vector stays zero.
func normalize(x []float64) float64 {
	n := floats.Norm(x, 2)
	if n > 0 {
		floats.Scale(1/n, x)
	}
	return n
}

// PowerIteration One step of power iteration for spectrally normalized weight. Runs on host after graph execution and
// updates singular vectors in place, so every graph bound to them sees new values.
type PowerIteration struct {
	norm *SpectralNorm
}

// Run Does v = norm(W^T u), u = norm(W v) and stores sigma ratio
func (p *PowerIteration) Run() error {
	sn := p.norm
	shp := sn.Weight.Shape()
	out, in := shp[0], shp[1]
	w, err := sn.Weight.Floats()
	if err != nil {
		return errors.Wrapf(err, "Can't read weights of '%s'", sn.Weight.Name)
	}
	uDense, ok := sn.U.Value().(*tensor.Dense)
	if !ok {
		return errors.Errorf("left singular vector of '%s' is not bound to dense tensor", sn.Weight.Name)
	}
	vDense, ok := sn.V.Value().(*tensor.Dense)
	if !ok {
		return errors.Errorf("right singular vector of '%s' is not bound to dense tensor", sn.Weight.Name)
	}
	uData := uDense.Data().([]float64)
	vData := vDense.Data().([]float64)

	wm := mat.NewDense(out, in, w)
	u := mat.NewVecDense(out, uData)
	v := mat.NewVecDense(in, vData)
	wv := mat.NewVecDense(out, nil)
	wv.MulVec(wm, v)
	sigmaOld := mat.Dot(u, wv)

	vNew := mat.NewVecDense(in, nil)
	vNew.MulVec(wm.T(), u)
	normalize(vNew.RawVector().Data)
	uNew := mat.NewVecDense(out, nil)
	uNew.MulVec(wm, vNew)
	sigmaNew := normalize(uNew.RawVector().Data)

	copy(uData, uNew.RawVector().Data)
	copy(vData, vNew.RawVector().Data)

	ratio := 1.0
	if sigmaOld != 0 {
		ratio = sigmaNew / sigmaOld
	}
	if err := sn.SigmaRatio.Assign([]float64{ratio}); err != nil {
		return errors.Wrapf(err, "Can't store sigma ratio of '%s'", sn.Weight.Name)
	}
	return nil
}

// UpdateCollection Collects power iteration steps of discriminator's forward pass.
// Nil collection means that pass must not update running statistics.
type UpdateCollection struct {
	iterations []*PowerIteration
}

// NewUpdateCollection Returns empty collection
func NewUpdateCollection() *UpdateCollection {
	return &UpdateCollection{}
}

// Add Registers power iteration. No-op for nil collection.
func (c *UpdateCollection) Add(p *PowerIteration) {
	if c == nil {
		return
	}
	c.iterations = append(c.iterations, p)
}

// Len Returns number of registered updates
func (c *UpdateCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.iterations)
}

// Run Runs every registered update
func (c *UpdateCollection) Run() error {
	if c == nil {
		return nil
	}
	for i, p := range c.iterations {
		if err := p.Run(); err != nil {
			return errors.Wrapf(err, "Can't run update #%d", i)
		}
	}
	return nil
}
