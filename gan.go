package sngan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
)

// modelState Lifecycle of SNGAN
type modelState uint16

const (
	stateConstructed = modelState(iota)
	stateBuilt
	stateBroken
)

// SNGAN Class-conditional hinge-loss GAN with spectrally normalized discriminator, trained over one or many replicas.
//
// Every objective has its own graph: discriminator's one is the graph of latents, generator's one is created by
// BuildModel. Replicas live side by side on both graphs and read shared variables through their own bindings.
//
// zs - latent node per replica, shape [batch_size, z_dim]
// config - copy of configuration
// globalStep - externally supplied counter incremented once per training step
// devices - compute devices of replicas (needed only when there are more than one replica)
// batchSource - data pipeline which provides real batches of every replica
//
type SNGAN struct {
	graph       *gorgonia.ExprGraph
	genGraph    *gorgonia.ExprGraph
	zs          gorgonia.Nodes
	config      Config
	globalStep  *StepCounter
	devices     []Device
	batchSource BatchSource

	generatorFn     GeneratorFunc
	discriminatorFn DiscriminatorFunc
	sampler         *ClassSampler

	state modelState
	scope *VariableScope
	vars  VariablePartition

	batches     []DataBatch
	replicas    []*Replica
	diagnostics *replicaDiagnostics

	dLossReals gorgonia.Nodes
	dLossFakes gorgonia.Nodes
	dLosses    gorgonia.Nodes
	gLosses    gorgonia.Nodes

	dStep               *StepCounter
	gStep               *StepCounter
	dOptimizer          *Optimizer
	gOptimizer          *Optimizer
	dOptim              *ApplyOp
	gOptim              *ApplyOp
	incrementGlobalStep Op

	summaries *summaryReader
}

// NewSNGAN Validates inputs and stores configuration. No graph nodes except latents exist after this call.
func NewSNGAN(zs gorgonia.Nodes, cfg Config, globalStep *StepCounter, devices []Device, batches BatchSource) (*SNGAN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(zs) != cfg.NumTowers {
		return nil, configErrorf("expected %d latent nodes (one per replica), but got %d", cfg.NumTowers, len(zs))
	}
	if cfg.NumTowers > 1 && len(devices) < cfg.NumTowers {
		return nil, configErrorf("%d replicas need at least %d devices, but got %d", cfg.NumTowers, cfg.NumTowers, len(devices))
	}
	if globalStep == nil {
		return nil, configErrorf("global step counter is nil")
	}
	if batches == nil {
		return nil, configErrorf("batch source is nil")
	}
	var g *gorgonia.ExprGraph
	for i, z := range zs {
		if z == nil {
			return nil, configErrorf("latent node #%d is nil", i)
		}
		if g == nil {
			g = z.Graph()
		} else if z.Graph() != g {
			return nil, configErrorf("latent node #%d lives on different graph", i)
		}
		shp := z.Shape()
		if len(shp) != 2 || shp[0] != cfg.BatchSize || shp[1] != cfg.ZDim {
			return nil, configErrorf("latent node #%d has shape %v, but (%d, %d) is expected", i, shp, cfg.BatchSize, cfg.ZDim)
		}
	}
	genVariant, err := ParseGeneratorVariant(cfg.GeneratorType)
	if err != nil {
		return nil, err
	}
	discVariant, err := ParseDiscriminatorVariant(cfg.DiscriminatorType)
	if err != nil {
		return nil, err
	}
	genFn, err := genVariant.Func()
	if err != nil {
		return nil, err
	}
	discFn, err := discVariant.Func()
	if err != nil {
		return nil, err
	}
	m := &SNGAN{
		graph:           g,
		zs:              zs,
		config:          cfg,
		globalStep:      globalStep,
		batchSource:     batches,
		generatorFn:     genFn,
		discriminatorFn: discFn,
		sampler:         NewUniformClassSampler(cfg.NumClasses, rand.NewSource(uint64(cfg.Seed))),
		state:           stateConstructed,
	}
	if len(devices) > 0 {
		m.devices = make([]Device, len(devices))
		copy(m.devices, devices)
	}
	return m, nil
}

// BuildModel Builds every replica, gradients and both optimizer steps. Could be called exactly once.
func (m *SNGAN) BuildModel() error {
	if m.state != stateConstructed {
		return invariantErrorf("model has been built already (or previous build failed)")
	}
	// Any failure leaves partially built graphs behind
	m.state = stateBroken
	m.genGraph = gorgonia.NewGraph()
	m.scope = NewVariableScope(m.graph, "model")

	cfg := m.config
	m.dOptimizer = NewAdamOptimizer("d_opt", cfg.DiscriminatorLearningRate, cfg.Beta1)
	m.gOptimizer = NewAdamOptimizer("g_opt", cfg.GeneratorLearningRate, cfg.Beta1)
	if cfg.NumTowers == 1 {
		if _, err := m.buildReplica(0, cfg.BatchSize, 1, Placement{}); err != nil {
			return errors.Wrap(err, "Can't build replica")
		}
	} else {
		for i, placement := range towerPlacements(m.devices[:cfg.NumTowers]) {
			if _, err := m.buildReplica(i, cfg.BatchSize, cfg.NumTowers, placement); err != nil {
				return errors.Wrapf(err, "Can't build replica on %s", placement.Compute)
			}
			m.scope.ReuseVariables()
		}
	}
	dGrads, gGrads, err := m.buildGradients()
	if err != nil {
		return err
	}

	m.dStep = NewStepCounter("d_step")
	m.gStep = NewStepCounter("g_step")
	m.dOptim, err = m.dOptimizer.ApplyGradients(dGrads, m.dStep)
	if err != nil {
		return errors.Wrap(err, "Can't apply discriminator gradients")
	}
	m.gOptim, err = m.gOptimizer.ApplyGradients(gGrads, m.gStep)
	if err != nil {
		return errors.Wrap(err, "Can't apply generator gradients")
	}
	m.summaries = newSummaryReader(m)
	m.state = stateBuilt
	return nil
}

// buildGradients Differentiates d-losses of every replica against discriminator variables and g-losses against generator
// ones, then averages them over replicas
func (m *SNGAN) buildGradients() (dGrads, gGrads GradientSet, err error) {
	prefixes := make([]string, len(m.replicas))
	for i, r := range m.replicas {
		prefixes[i] = r.prefix
	}
	dTowerGrads, err := m.dOptimizer.ComputeGradients(m.dLosses, prefixes, m.vars.Discriminator)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't compute discriminator gradients")
	}
	gTowerGrads, err := m.gOptimizer.ComputeGradients(m.gLosses, prefixes, m.vars.Generator)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't compute generator gradients")
	}
	for i, r := range m.replicas {
		r.DGrads, r.GGrads = dTowerGrads[i], gTowerGrads[i]
	}
	if len(m.replicas) == 1 {
		return dTowerGrads[0], gTowerGrads[0], nil
	}
	dGrads, err = AverageGradients(dTowerGrads)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't average discriminator gradients")
	}
	gGrads, err = AverageGradients(gTowerGrads)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't average generator gradients")
	}
	return dGrads, gGrads, nil
}

// Built Returns true when BuildModel has finished successfully
func (m *SNGAN) Built() bool {
	return m.state == stateBuilt
}

// Graph Returns graph of latents, data batches and discriminator objective
func (m *SNGAN) Graph() *gorgonia.ExprGraph {
	return m.graph
}

// GeneratorGraph Returns graph of generator objective (nil before BuildModel)
func (m *SNGAN) GeneratorGraph() *gorgonia.ExprGraph {
	return m.genGraph
}

// Config Returns copy of configuration
func (m *SNGAN) Config() Config {
	return m.config
}

// Scope Returns shared variable scope
func (m *SNGAN) Scope() *VariableScope {
	return m.scope
}

// Latents Returns latent nodes of replicas
func (m *SNGAN) Latents() gorgonia.Nodes {
	return m.zs
}

// Replicas Returns replicas in index order
func (m *SNGAN) Replicas() []*Replica {
	return m.replicas
}

// DOptim Returns discriminator's optimizer step
func (m *SNGAN) DOptim() *ApplyOp {
	return m.dOptim
}

// GOptim Returns generator's optimizer step
func (m *SNGAN) GOptim() *ApplyOp {
	return m.gOptim
}

// IncrementGlobalStep Returns operation which increments global step
func (m *SNGAN) IncrementGlobalStep() Op {
	return m.incrementGlobalStep
}

// GlobalStep Returns global step counter
func (m *SNGAN) GlobalStep() *StepCounter {
	return m.globalStep
}

// DStep Returns step counter of discriminator's optimizer
func (m *SNGAN) DStep() *StepCounter {
	return m.dStep
}

// GStep Returns step counter of generator's optimizer
func (m *SNGAN) GStep() *StepCounter {
	return m.gStep
}

// DVars Returns discriminator variables (sigma ratios included)
func (m *SNGAN) DVars() []*Variable {
	return m.vars.Discriminator
}

// GVars Returns generator variables
func (m *SNGAN) GVars() []*Variable {
	return m.vars.Generator
}

// SigmaRatioVars Returns diagnostic variables
func (m *SNGAN) SigmaRatioVars() []*Variable {
	return m.vars.Diagnostic
}

// AllVars Returns every trainable variable
func (m *SNGAN) AllVars() []*Variable {
	return m.vars.All
}

// DLossReals Returns per-replica discriminator losses on real data
func (m *SNGAN) DLossReals() gorgonia.Nodes { return m.dLossReals }

// DLossFakes Returns per-replica discriminator losses on generated data
func (m *SNGAN) DLossFakes() gorgonia.Nodes { return m.dLossFakes }

// DLosses Returns per-replica total discriminator losses
func (m *SNGAN) DLosses() gorgonia.Nodes { return m.dLosses }

// GLosses Returns per-replica generator losses (they live on generator graph)
func (m *SNGAN) GLosses() gorgonia.Nodes { return m.gLosses }

// SampleClasses Resamples class conditioning of generator on every replica of both graphs
func (m *SNGAN) SampleClasses() error {
	if !m.Built() {
		return invariantErrorf("model is not built")
	}
	for _, r := range m.replicas {
		for _, n := range (gorgonia.Nodes{r.GenClasses, r.GenPass.GenClasses}) {
			if err := gorgonia.Let(n, m.sampler.SampleOneHot(m.config.BatchSize)); err != nil {
				return errors.Wrapf(err, "Can't set generator classes of replica #%d", r.Index)
			}
		}
	}
	return nil
}

// SampleLatents Fills latent nodes of every replica with normally distributed values
func (m *SNGAN) SampleLatents() error {
	latents := make(gorgonia.Nodes, 0, 2*len(m.zs))
	latents = append(latents, m.zs...)
	for _, r := range m.replicas {
		latents = append(latents, r.GenPass.Z)
	}
	for i, z := range latents {
		if err := gorgonia.Let(z, NormRandDense(m.config.BatchSize, m.config.ZDim)); err != nil {
			return errors.Wrapf(err, "Can't set latents '%s' (#%d)", z.Name(), i)
		}
	}
	return nil
}

// UpdateStatistics Runs power iteration of every replica's real-data discriminator pass. Replicas share weights, so
// every replica refines the same singular vectors.
func (m *SNGAN) UpdateStatistics() error {
	if !m.Built() {
		return invariantErrorf("model is not built")
	}
	for _, r := range m.replicas {
		if err := r.updates.Run(); err != nil {
			return errors.Wrapf(err, "Can't update statistics of replica #%d", r.Index)
		}
	}
	return nil
}

func (m *SNGAN) String() string {
	return fmt.Sprintf("SNGAN(towers=%d, d_vars=%d, g_vars=%d, sigma_ratios=%d)", m.config.NumTowers, len(m.vars.Discriminator), len(m.vars.Generator), len(m.vars.Diagnostic))
}
