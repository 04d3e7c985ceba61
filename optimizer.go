package sngan_go

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Op Operation executed by training loop after graph run
type Op interface {
	Run() error
}

// OpFunc Adapter for plain functions
type OpFunc func() error

// Run Calls f()
func (f OpFunc) Run() error { return f() }

// StepCounter Monotonically increasing step counter
type StepCounter struct {
	name  string
	value int64
}

// NewStepCounter Returns counter starting from zero
func NewStepCounter(name string) *StepCounter {
	return &StepCounter{name: name}
}

// Name Returns counter name
func (c *StepCounter) Name() string { return c.name }

// Value Returns current value
func (c *StepCounter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Increment Adds one and returns new value
func (c *StepCounter) Increment() int64 { return atomic.AddInt64(&c.value, 1) }

// Set Overwrites value (checkpoint restoring)
func (c *StepCounter) Set(v int64) { atomic.StoreInt64(&c.value, v) }

// IncrementOp Returns operation incrementing counter
func (c *StepCounter) IncrementOp() Op {
	return OpFunc(func() error {
		c.Increment()
		return nil
	})
}

// Optimizer Gradient-descent-family optimizer working over subset of variables
type Optimizer struct {
	Name   string
	solver gorgonia.Solver
}

// NewAdamOptimizer Returns Adam optimizer with provided learning rate and momentum term
func NewAdamOptimizer(name string, learningRate, beta1 float64) *Optimizer {
	return &Optimizer{
		Name:   name,
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(learningRate), gorgonia.WithBeta1(beta1)),
	}
}

// NewOptimizer Wraps any gorgonia solver
func NewOptimizer(name string, solver gorgonia.Solver) *Optimizer {
	return &Optimizer{Name: name, solver: solver}
}

// ComputeGradients Builds gradients of every replica's loss with respect to vars (see ComputeGradients)
func (o *Optimizer) ComputeGradients(losses gorgonia.Nodes, prefixes []string, vars []*Variable) ([]GradientSet, error) {
	sets, err := ComputeGradients(losses, prefixes, vars)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s]", o.Name)
	}
	return sets, nil
}

// ApplyGradients Returns operation which feeds gradient values of the last graph run into solver and increments step.
// Absent gradients are skipped. Must be called before graph is compiled into machine.
func (o *Optimizer) ApplyGradients(grads GradientSet, step *StepCounter) (*ApplyOp, error) {
	if step == nil {
		return nil, errors.Errorf("[%s] step counter is nil", o.Name)
	}
	op := &ApplyOp{
		optimizer: o,
		step:      step,
		vars:      make([]*Variable, 0, len(grads)),
		index:     make(map[*Variable]int, len(grads)),
	}
	for _, g := range grads {
		if g.Grad == nil {
			continue
		}
		if g.Variable == nil {
			return nil, errors.Errorf("[%s] gradient without variable", o.Name)
		}
		op.index[g.Variable] = len(op.vars)
		op.vars = append(op.vars, g.Variable)
	}
	op.values = make([]gorgonia.Value, len(op.vars))
	for _, g := range grads {
		if g.Grad == nil {
			continue
		}
		gorgonia.Read(g.Grad, &op.values[op.index[g.Variable]])
	}
	return op, nil
}

// ApplyOp Single optimizer step over fixed list of variables
type ApplyOp struct {
	optimizer *Optimizer
	step      *StepCounter
	vars      []*Variable
	index     map[*Variable]int
	values    []gorgonia.Value
}

// Variables Returns variables updated by operation
func (op *ApplyOp) Variables() []*Variable {
	ret := make([]*Variable, len(op.vars))
	copy(ret, op.vars)
	return ret
}

// Step Returns step counter of operation
func (op *ApplyOp) Step() *StepCounter {
	return op.step
}

// Gradient Returns gradient value of variable read during the last graph run
func (op *ApplyOp) Gradient(v *Variable) (gorgonia.Value, bool) {
	i, ok := op.index[v]
	if !ok || op.values[i] == nil {
		return nil, false
	}
	return op.values[i], true
}

// Run Applies gradients and increments step counter
func (op *ApplyOp) Run() error {
	model := make([]gorgonia.ValueGrad, len(op.vars))
	for i, v := range op.vars {
		if op.values[i] == nil {
			return errors.Errorf("[%s] gradient of '%s' has not been computed. Run graph before applying gradients", op.optimizer.Name, v.Name)
		}
		model[i] = valueGrad{weights: v.Value(), grad: op.values[i]}
	}
	if err := op.optimizer.solver.Step(model); err != nil {
		return errors.Wrapf(err, "[%s] Can't do solver step", op.optimizer.Name)
	}
	op.step.Increment()
	return nil
}

// valueGrad Pairs variable value with externally computed gradient
type valueGrad struct {
	weights gorgonia.Value
	grad    gorgonia.Value
}

func (vg valueGrad) Value() gorgonia.Value          { return vg.weights }
func (vg valueGrad) Grad() (gorgonia.Value, error) { return vg.grad, nil }
