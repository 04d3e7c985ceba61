package sngan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Replica One device-bound instantiation of forward passes and losses. All replicas share variables of replica #0.
//
// Discriminator pass lives on model's graph:
// Images, Labels - real data batch of replica
// GenClasses - one-hot class conditioning of generator (resampled every run)
// Generated - generator output
// LogitsReal, LogitsFake - discriminator outputs on real and generated data
// DLossReal, DLossFake, DLoss - scalar hinge losses
// LogitRealMean, LogitFakeMean - mean logits for monitoring
//
// Generator pass lives on model's generator graph:
// GenPass - generator and discriminator on generated data only
// GLoss - scalar hinge loss of generator
//
// DGrads, GGrads - gradients of replica's own losses (before averaging over replicas)
//
type Replica struct {
	Index     int
	Placement Placement

	Images     *gorgonia.Node
	Labels     *gorgonia.Node
	GenClasses *gorgonia.Node

	Generated  *gorgonia.Node
	LogitsReal *gorgonia.Node
	LogitsFake *gorgonia.Node

	DLossReal *gorgonia.Node
	DLossFake *gorgonia.Node
	DLoss     *gorgonia.Node

	LogitRealMean *gorgonia.Node
	LogitFakeMean *gorgonia.Node

	GenPass *GeneratorPass
	GLoss   *gorgonia.Node

	DGrads GradientSet
	GGrads GradientSet

	prefix  string
	updates *UpdateCollection
}

// GeneratorPass Forward pass differentiated by generator's optimizer. It never sees real data.
type GeneratorPass struct {
	Z          *gorgonia.Node
	GenClasses *gorgonia.Node
	Generated  *gorgonia.Node
	LogitsFake *gorgonia.Node
}

// Updates Returns power iteration steps registered by real-data pass of discriminator
func (r *Replica) Updates() *UpdateCollection {
	return r.updates
}

// Prefix Returns node name prefix of replica's variable bindings
func (r *Replica) Prefix() string {
	return r.prefix
}

// replicaDiagnostics Moments of generator output and real images of replica #0
type replicaDiagnostics struct {
	generatorMean *gorgonia.Node
	generatorVar  *gorgonia.Node
	imageMean     *gorgonia.Node
	imageVar      *gorgonia.Node
}

// classPlaceholder Creates one-hot generator conditioning of replica filled with sampled classes
func (m *SNGAN) classPlaceholder(g *gorgonia.ExprGraph, idx, batchSize int) *gorgonia.Node {
	return gorgonia.NewMatrix(
		g,
		gorgonia.Float64,
		gorgonia.WithShape(batchSize, m.config.NumClasses),
		gorgonia.WithName(fmt.Sprintf("tower_%d/gen_class", idx)),
		gorgonia.WithValue(m.sampler.SampleOneHot(batchSize)),
	)
}

// buildReplica Builds both forward passes and losses of single replica.
// Replica #0 creates variables, global step increment and requests data batches; other replicas reuse everything.
func (m *SNGAN) buildReplica(idx, batchSize, numTowers int, placement Placement) (*Replica, error) {
	cfg := m.config
	reuse := idx > 0
	if idx == 0 {
		m.incrementGlobalStep = m.globalStep.IncrementOp()
		batches, err := m.batchSource.GetBatches(m.graph, batchSize, numTowers)
		if err != nil {
			return nil, errors.Wrap(err, "Can't get data batches")
		}
		if len(batches) != numTowers {
			return nil, configErrorf("data pipeline returned %d batches for %d replicas", len(batches), numTowers)
		}
		m.batches = batches
	}
	if idx >= len(m.batches) {
		return nil, configErrorf("no data batch for replica #%d (got %d batches)", idx, len(m.batches))
	}
	batch := m.batches[idx]

	replica := &Replica{
		Index:     idx,
		Placement: placement,
		Images:    batch.Images,
		Labels:    batch.Labels,
		prefix:    fmt.Sprintf("tower_%d/", idx),
		updates:   NewUpdateCollection(),
	}

	// Generated samples are conditioned on uniformly sampled classes, independent of real labels
	replica.GenClasses = m.classPlaceholder(m.graph, idx, batchSize)

	varsBefore := m.scope.Len()
	m.scope.SetStorage(placement.Storage)
	m.scope.Bind(m.graph, replica.prefix)

	var err error
	replica.Generated, err = m.generatorFn(m.scope, m.zs[idx], replica.GenClasses, cfg.GfDim, cfg.NumClasses, cfg.ImageShape(), reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build generator of replica #%d", idx)
	}
	gorgonia.WithName(fmt.Sprintf("tower_%d/generated", idx))(replica.Generated)

	replica.LogitsReal, err = m.discriminatorFn(m.scope, batch.Images, batch.Labels, cfg.DfDim, cfg.NumClasses, reuse, replica.updates)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build discriminator on real data of replica #%d", idx)
	}
	// Fake pass always reuses weights of real pass and never updates running statistics
	replica.LogitsFake, err = m.discriminatorFn(m.scope, replica.Generated, replica.GenClasses, cfg.DfDim, cfg.NumClasses, true, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build discriminator on generated data of replica #%d", idx)
	}
	if reuse && m.scope.Len() != varsBefore {
		return nil, invariantErrorf("replica #%d created %d new variables", idx, m.scope.Len()-varsBefore)
	}

	if err := replica.buildLosses(); err != nil {
		return nil, errors.Wrapf(err, "Can't build losses of replica #%d", idx)
	}

	if idx == 0 {
		m.diagnostics, err = buildDiagnostics(replica)
		if err != nil {
			return nil, errors.Wrap(err, "Can't build diagnostics")
		}
		m.vars, err = PartitionVariables(m.scope.TrainableVariables())
		if err != nil {
			return nil, errors.Wrap(err, "Can't partition variables")
		}
	}

	if err := m.buildGeneratorPass(replica, batchSize); err != nil {
		return nil, errors.Wrapf(err, "Can't build generator pass of replica #%d", idx)
	}

	m.replicas = append(m.replicas, replica)
	m.dLossReals = append(m.dLossReals, replica.DLossReal)
	m.dLossFakes = append(m.dLossFakes, replica.DLossFake)
	m.dLosses = append(m.dLosses, replica.DLoss)
	m.gLosses = append(m.gLosses, replica.GLoss)
	return replica, nil
}

// buildGeneratorPass Builds generator objective of replica on generator graph. Every variable is reused.
func (m *SNGAN) buildGeneratorPass(r *Replica, batchSize int) error {
	cfg := m.config
	m.scope.Bind(m.genGraph, r.prefix)
	p := &GeneratorPass{
		Z: gorgonia.NewMatrix(
			m.genGraph,
			gorgonia.Float64,
			gorgonia.WithShape(batchSize, cfg.ZDim),
			gorgonia.WithName(fmt.Sprintf("tower_%d/z", r.Index)),
			gorgonia.WithValue(NormRandDense(batchSize, cfg.ZDim)),
		),
		GenClasses: m.classPlaceholder(m.genGraph, r.Index, batchSize),
	}
	var err error
	p.Generated, err = m.generatorFn(m.scope, p.Z, p.GenClasses, cfg.GfDim, cfg.NumClasses, cfg.ImageShape(), true)
	if err != nil {
		return errors.Wrap(err, "Can't build generator")
	}
	gorgonia.WithName(fmt.Sprintf("tower_%d/generated", r.Index))(p.Generated)
	p.LogitsFake, err = m.discriminatorFn(m.scope, p.Generated, p.GenClasses, cfg.DfDim, cfg.NumClasses, true, nil)
	if err != nil {
		return errors.Wrap(err, "Can't build discriminator on generated data")
	}
	r.GLoss, err = GeneratorLoss(p.LogitsFake)
	if err != nil {
		return errors.Wrap(err, "Can't build generator loss")
	}
	gorgonia.WithName(fmt.Sprintf("tower_%d/g_loss", r.Index))(r.GLoss)
	r.GenPass = p
	return nil
}

func (r *Replica) buildLosses() error {
	var err error
	r.DLossReal, err = DiscriminatorRealLoss(r.LogitsReal)
	if err != nil {
		return errors.Wrap(err, "Can't build discriminator loss on real data")
	}
	r.DLossFake, err = DiscriminatorFakeLoss(r.LogitsFake)
	if err != nil {
		return errors.Wrap(err, "Can't build discriminator loss on generated data")
	}
	r.DLoss, err = gorgonia.Add(r.DLossReal, r.DLossFake)
	if err != nil {
		return errors.Wrap(err, "Can't do (d_real+d_fake)")
	}
	gorgonia.WithName(fmt.Sprintf("tower_%d/d_loss_real", r.Index))(r.DLossReal)
	gorgonia.WithName(fmt.Sprintf("tower_%d/d_loss_fake", r.Index))(r.DLossFake)
	gorgonia.WithName(fmt.Sprintf("tower_%d/d_loss", r.Index))(r.DLoss)

	r.LogitRealMean, err = gorgonia.Mean(r.LogitsReal)
	if err != nil {
		return errors.Wrap(err, "Can't average logits on real data")
	}
	r.LogitFakeMean, err = gorgonia.Mean(r.LogitsFake)
	if err != nil {
		return errors.Wrap(err, "Can't average logits on generated data")
	}
	return nil
}

func buildDiagnostics(r *Replica) (*replicaDiagnostics, error) {
	var err error
	d := &replicaDiagnostics{}
	d.generatorMean, d.generatorVar, err = moments(r.Generated)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute moments of generator output")
	}
	d.imageMean, d.imageVar, err = moments(r.Images)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute moments of images")
	}
	return d, nil
}

// moments Returns mean and variance over all elements
func moments(x *gorgonia.Node) (mean, variance *gorgonia.Node, err error) {
	mean, err = gorgonia.Mean(x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do mean(x)")
	}
	centered, err := gorgonia.Sub(x, mean)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (x-mean)")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (x^2)")
	}
	variance, err = gorgonia.Mean(sqr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do mean(x^2)")
	}
	return mean, variance, nil
}
