package sngan_go

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Gradient Gradient node of single variable. Grad is nil when variable gets no gradient.
type Gradient struct {
	Variable *Variable
	Grad     *gorgonia.Node
}

// GradientSet One gradient per variable of some subset (discriminator's or generator's)
type GradientSet []Gradient

// Variables Returns variables of gradient set in order
func (gs GradientSet) Variables() []*Variable {
	vars := make([]*Variable, len(gs))
	for i := range gs {
		vars[i] = gs[i].Variable
	}
	return vars
}

// Present Returns number of non-absent gradients
func (gs GradientSet) Present() int {
	n := 0
	for i := range gs {
		if gs[i].Grad != nil {
			n++
		}
	}
	return n
}

// ComputeGradients Builds symbolic gradients of every replica's scalar loss with respect to provided variables.
//
// All losses must live on the same graph: replica i reads variables through nodes bound under prefixes[i], so its
// gradients are taken with respect to those nodes. Every loss is differentiated in a single backward pass, since graph
// nodes keep derivatives of the first pass only. Diagnostic and non-trainable variables get absent (nil) gradient.
//
func ComputeGradients(losses gorgonia.Nodes, prefixes []string, vars []*Variable) ([]GradientSet, error) {
	if len(losses) == 0 {
		return nil, errors.New("no losses to differentiate")
	}
	if len(prefixes) != len(losses) {
		return nil, errors.Errorf("%d losses, but %d binding prefixes", len(losses), len(prefixes))
	}
	var g *gorgonia.ExprGraph
	for i, loss := range losses {
		if loss == nil {
			return nil, errors.Errorf("loss #%d is nil", i)
		}
		if !loss.IsScalar() {
			return nil, errors.Errorf("loss '%s' must be scalar, but has shape %v", loss.Name(), loss.Shape())
		}
		if g == nil {
			g = loss.Graph()
		} else if loss.Graph() != g {
			return nil, errors.Errorf("loss '%s' lives on different graph", loss.Name())
		}
	}

	type position struct {
		set, index int
	}
	sets := make([]GradientSet, len(losses))
	wrt := make(gorgonia.Nodes, 0, len(losses)*len(vars))
	positions := make([]position, 0, len(losses)*len(vars))
	for i := range losses {
		sets[i] = make(GradientSet, len(vars))
		for j, v := range vars {
			sets[i][j].Variable = v
			if !v.Trainable || v.Diagnostic {
				continue
			}
			node, ok := v.Node(g, prefixes[i])
			if !ok {
				return nil, errors.Errorf("variable '%s' is not bound under '%s'", v.Name, prefixes[i])
			}
			wrt = append(wrt, node)
			positions = append(positions, position{set: i, index: j})
		}
	}
	if len(wrt) == 0 {
		return sets, nil
	}
	one := g.AddNode(constantLike(losses[0], 1.0))
	gradOutputs := make(gorgonia.Nodes, len(losses))
	for i := range gradOutputs {
		gradOutputs[i] = one
	}
	grads, err := gorgonia.Backpropagate(losses, gradOutputs, wrt)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't differentiate '%s'", losses[0].Name())
	}
	if len(grads) != len(wrt) {
		return nil, errors.Errorf("expected %d gradients, but got %d", len(wrt), len(grads))
	}
	for k, pos := range positions {
		sets[pos.set][pos.index].Grad = grads[k]
	}
	return sets, nil
}

// AverageGradients Averages per-device gradient sets variable by variable.
//
// Every set must reference the same variables in the same order. A variable without gradient is skipped only when it has
// no gradient on every device, partial absence is an invariant violation.
//
func AverageGradients(towerGrads []GradientSet) (GradientSet, error) {
	if len(towerGrads) == 0 {
		return nil, invariantErrorf("no gradient sets to average")
	}
	numVars := len(towerGrads[0])
	for i := 1; i < len(towerGrads); i++ {
		if len(towerGrads[i]) != numVars {
			return nil, invariantErrorf("device #%d has %d gradients, but device #0 has %d", i, len(towerGrads[i]), numVars)
		}
	}
	averaged := make(GradientSet, numVars)
	for v := 0; v < numVars; v++ {
		variable := towerGrads[0][v].Variable
		grads := make(gorgonia.Nodes, 0, len(towerGrads))
		for i := range towerGrads {
			if towerGrads[i][v].Variable != variable {
				return nil, invariantErrorf("gradient #%d of device #%d belongs to '%s', but device #0 has '%s'", v, i, nameOf(towerGrads[i][v].Variable), nameOf(variable))
			}
			if towerGrads[i][v].Grad != nil {
				grads = append(grads, towerGrads[i][v].Grad)
			}
		}
		averaged[v].Variable = variable
		if len(grads) == 0 {
			continue
		}
		if len(grads) != len(towerGrads) {
			return nil, invariantErrorf("variable '%s' has gradient on %d of %d devices", nameOf(variable), len(grads), len(towerGrads))
		}
		mean, err := meanOf(grads)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't average gradients of '%s'", nameOf(variable))
		}
		averaged[v].Grad = mean
	}
	return averaged, nil
}

func meanOf(nodes gorgonia.Nodes) (*gorgonia.Node, error) {
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	sum := nodes[0]
	var err error
	for _, n := range nodes[1:] {
		sum, err = gorgonia.Add(sum, n)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	mean, err := gorgonia.Div(sum, constantLike(sum, float64(len(nodes))))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x/k)")
	}
	return mean, nil
}

func nameOf(v *Variable) string {
	if v == nil {
		return "<nil>"
	}
	return v.Name
}
