package sngan_go

import (
	"testing"

	"gorgonia.org/gorgonia"
)

func TestBuildModelSingleTower(t *testing.T) {
	m := newBuiltModel(t, testConfig(1), nil)

	if m.DOptim() == nil || m.GOptim() == nil {
		t.Fatalf("model must have both optimizer steps")
	}
	if m.IncrementGlobalStep() == nil {
		t.Fatalf("model must have global step increment")
	}
	if len(m.Replicas()) != 1 || len(m.DLosses()) != 1 || len(m.GLosses()) != 1 || len(m.DLossReals()) != 1 || len(m.DLossFakes()) != 1 {
		t.Fatalf("single tower model must have single replica and single loss of each kind")
	}
	if len(m.DVars())+len(m.GVars()) != len(m.AllVars()) {
		t.Errorf("d_vars (%d) + g_vars (%d) must be all vars (%d)", len(m.DVars()), len(m.GVars()), len(m.AllVars()))
	}
	// test discriminator: d_fc0, d_out (weights, bias, sigma ratio) and d_embed (weights, sigma ratio)
	if len(m.DVars()) != 8 || len(m.GVars()) != 4 || len(m.SigmaRatioVars()) != 3 {
		t.Errorf("unexpected variable counts d=%d g=%d sigma_ratio=%d", len(m.DVars()), len(m.GVars()), len(m.SigmaRatioVars()))
	}
	for _, v := range m.DOptim().Variables() {
		if v.Role != RoleDiscriminator {
			t.Errorf("discriminator step updates '%s'", v.Name)
		}
		if v.Diagnostic {
			t.Errorf("discriminator step must not update diagnostic '%s'", v.Name)
		}
	}
	for _, v := range m.GOptim().Variables() {
		if v.Role != RoleGenerator {
			t.Errorf("generator step updates '%s'", v.Name)
		}
	}
	if len(m.DOptim().Variables()) != len(m.DVars())-len(m.SigmaRatioVars()) {
		t.Errorf("discriminator step must update every non-diagnostic discriminator variable")
	}

	before := m.GlobalStep().Value()
	if err := m.IncrementGlobalStep().Run(); err != nil {
		t.Fatal(err)
	}
	if m.GlobalStep().Value() != before+1 {
		t.Errorf("global step must be incremented by one")
	}

	if m.GeneratorGraph() == nil || m.GeneratorGraph() == m.Graph() {
		t.Fatalf("generator objective must have its own graph")
	}
	// Discriminator graph binds every variable, generator graph binds every variable used on generated data
	for _, v := range m.Scope().Variables() {
		if _, ok := v.Node(m.Graph(), "tower_0/"); !ok {
			t.Errorf("'%s' is not bound on discriminator graph", v.Name)
		}
		if _, ok := v.Node(m.GeneratorGraph(), "tower_0/"); !ok {
			t.Errorf("'%s' is not bound on generator graph", v.Name)
		}
	}
	if m.Replicas()[0].GLoss.Graph() != m.GeneratorGraph() || m.Replicas()[0].DLoss.Graph() != m.Graph() {
		t.Errorf("losses must live on graphs of their objectives")
	}

	if err := m.BuildModel(); !IsInvariantViolation(err) {
		t.Errorf("second build must be invariant violation, got %v", err)
	}
}

func TestBuildModelTwoTowers(t *testing.T) {
	devices := []Device{{Kind: DeviceGPU, Index: 0}, {Kind: DeviceGPU, Index: 1}}
	m := newBuiltModel(t, testConfig(2), devices)
	single := newBuiltModel(t, testConfig(1), nil)

	replicas := m.Replicas()
	if len(replicas) != 2 {
		t.Fatalf("expected 2 replicas, got %d", len(replicas))
	}
	if replicas[0].DLoss == replicas[1].DLoss || replicas[0].GLoss == replicas[1].GLoss {
		t.Errorf("replicas must have independent losses")
	}
	if replicas[1].Placement.Compute != devices[1] || replicas[1].Placement.Storage != devices[0] {
		t.Errorf("unexpected placement of replica #1: %s", replicas[1].Placement)
	}
	if m.Scope().Len() != single.Scope().Len() {
		t.Errorf("second replica must not create variables: %d vs %d", m.Scope().Len(), single.Scope().Len())
	}
	for _, v := range m.Scope().Variables() {
		if v.Device != devices[0] {
			t.Errorf("variable '%s' must be stored on %s, but got %s", v.Name, devices[0], v.Device)
		}
		// two replicas on two graphs
		if v.Bindings() != 4 {
			t.Errorf("variable '%s' must have 4 bindings, got %d", v.Name, v.Bindings())
		}
		n0, _ := v.Node(m.Graph(), replicas[0].Prefix())
		n1, _ := v.Node(m.GeneratorGraph(), replicas[1].Prefix())
		if n0 == nil || n1 == nil || n0.Value() != v.Value() || n1.Value() != v.Value() {
			t.Errorf("bindings of '%s' must share its value", v.Name)
		}
	}
	for i, v := range replicas[0].DGrads.Variables() {
		if replicas[1].DGrads[i].Variable != v {
			t.Fatalf("replicas must differentiate the same variables")
		}
	}

	// Averaged gradient must be the mean of replicas' gradients
	type pair struct {
		v      *Variable
		g0, g1 gorgonia.Value
	}
	pairs := make([]*pair, 0, len(m.DVars())+len(m.GVars()))
	for _, sets := range [][2]GradientSet{{replicas[0].DGrads, replicas[1].DGrads}, {replicas[0].GGrads, replicas[1].GGrads}} {
		for i := range sets[0] {
			if sets[0][i].Grad == nil {
				continue
			}
			p := &pair{v: sets[0][i].Variable}
			gorgonia.Read(sets[0][i].Grad, &p.g0)
			gorgonia.Read(sets[1][i].Grad, &p.g1)
			pairs = append(pairs, p)
		}
	}
	runGraph(t, m.Graph())
	runGraph(t, m.GeneratorGraph())
	if len(pairs) != len(m.DOptim().Variables())+len(m.GOptim().Variables()) {
		t.Fatalf("expected gradient of every updated variable, got %d", len(pairs))
	}
	for _, p := range pairs {
		op := m.DOptim()
		if p.v.Role == RoleGenerator {
			op = m.GOptim()
		}
		avg, ok := op.Gradient(p.v)
		if !ok {
			t.Fatalf("no averaged gradient of '%s'", p.v.Name)
		}
		a, g0, g1 := mustFloats(t, avg), mustFloats(t, p.g0), mustFloats(t, p.g1)
		for j := range a {
			if !almostEqual(a[j], (g0[j]+g1[j])/2, 1e-9) {
				t.Fatalf("'%s'[%d]: averaged gradient %v is not mean of %v and %v", p.v.Name, j, a[j], g0[j], g1[j])
			}
		}
	}
}

type shortBatchSource struct {
	inner BatchSource
}

func (s shortBatchSource) GetBatches(g *gorgonia.ExprGraph, batchSize, numReplicas int) ([]DataBatch, error) {
	batches, err := s.inner.GetBatches(g, batchSize, numReplicas)
	if err != nil {
		return nil, err
	}
	return batches[:1], nil
}

func TestBuildModelBatchCountMismatch(t *testing.T) {
	cfg := testConfig(2)
	g := gorgonia.NewGraph()
	devices := []Device{{Kind: DeviceCPU, Index: 0}, {Kind: DeviceCPU, Index: 1}}
	m, err := NewSNGAN(testLatents(g, cfg), cfg, NewStepCounter("global_step"), devices, shortBatchSource{inner: testPipeline(t, cfg)})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.BuildModel(); !IsConfigurationError(err) {
		t.Errorf("batch count mismatch must be configuration error, got %v", err)
	}
	if m.Built() {
		t.Errorf("failed build must not leave model built")
	}
	if err := m.BuildModel(); !IsInvariantViolation(err) {
		t.Errorf("build after failure must be invariant violation, got %v", err)
	}
}

func TestNewSNGANValidation(t *testing.T) {
	cfg := testConfig(2)
	devices := []Device{{Kind: DeviceCPU, Index: 0}, {Kind: DeviceCPU, Index: 1}}

	tests := []struct {
		name  string
		build func(g *gorgonia.ExprGraph) error
	}{
		{"latents count", func(g *gorgonia.ExprGraph) error {
			_, err := NewSNGAN(testLatents(g, cfg)[:1], cfg, NewStepCounter("s"), devices, testPipeline(t, cfg))
			return err
		}},
		{"devices count", func(g *gorgonia.ExprGraph) error {
			_, err := NewSNGAN(testLatents(g, cfg), cfg, NewStepCounter("s"), devices[:1], testPipeline(t, cfg))
			return err
		}},
		{"generator variant", func(g *gorgonia.ExprGraph) error {
			bad := cfg
			bad.GeneratorType = "unknown"
			_, err := NewSNGAN(testLatents(g, bad), bad, NewStepCounter("s"), devices, testPipeline(t, cfg))
			return err
		}},
		{"step counter", func(g *gorgonia.ExprGraph) error {
			_, err := NewSNGAN(testLatents(g, cfg), cfg, nil, devices, testPipeline(t, cfg))
			return err
		}},
		{"batch source", func(g *gorgonia.ExprGraph) error {
			_, err := NewSNGAN(testLatents(g, cfg), cfg, NewStepCounter("s"), devices, nil)
			return err
		}},
		{"latent shape", func(g *gorgonia.ExprGraph) error {
			bad := cfg
			bad.ZDim = 3
			_, err := NewSNGAN(testLatents(g, bad), cfg, NewStepCounter("s"), devices, testPipeline(t, cfg))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.build(gorgonia.NewGraph()); !IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestModelBeforeBuild(t *testing.T) {
	m := newTestModel(t, testConfig(1), nil)
	if m.Built() {
		t.Fatalf("model must not be built after construction")
	}
	if err := m.SampleClasses(); !IsInvariantViolation(err) {
		t.Errorf("expected invariant violation, got %v", err)
	}
	if err := m.UpdateStatistics(); !IsInvariantViolation(err) {
		t.Errorf("expected invariant violation, got %v", err)
	}
	if _, err := m.Summaries(); !IsInvariantViolation(err) {
		t.Errorf("expected invariant violation, got %v", err)
	}
}

func TestSummariesAfterRun(t *testing.T) {
	m := newBuiltModel(t, testConfig(1), nil)
	var logitsFake gorgonia.Value
	gorgonia.Read(m.Replicas()[0].GenPass.LogitsFake, &logitsFake)

	runGraph(t, m.Graph())
	if _, err := m.Summaries(); err == nil {
		t.Errorf("summaries must fail until generator graph has been run")
	}
	runGraph(t, m.GeneratorGraph())
	s, err := m.Summaries()
	if err != nil {
		t.Fatalf("Can't collect summaries: %v", err)
	}
	if s.DLossReal < 0 || s.DLossFake < 0 {
		t.Errorf("hinge losses must be non-negative: %+v", s)
	}
	if !almostEqual(s.DLoss, s.DLossReal+s.DLossFake, 1e-9) {
		t.Errorf("d_loss must be d_loss_real + d_loss_fake: %+v", s)
	}
	logits := mustFloats(t, logitsFake)
	mean := 0.0
	for _, x := range logits {
		mean += x / float64(len(logits))
	}
	if !almostEqual(s.GLoss, -mean, 1e-9) {
		t.Errorf("g_loss must be -mean(logits_fake) of generator pass: %v vs %v", s.GLoss, -mean)
	}
	if len(s.SigmaRatios) != 3 {
		t.Errorf("expected 3 sigma ratios, got %d", len(s.SigmaRatios))
	}
	if s.GeneratorVar < 0 || s.ImageVar < 0 {
		t.Errorf("variances must be non-negative: %+v", s)
	}
	if _, err := m.GeneratedImages(); err != nil {
		t.Errorf("Can't get generated images: %v", err)
	}
}
