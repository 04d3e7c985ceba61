package sngan_go

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const eps = 1e-9

func runGraph(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("Can't run graph: %v", err)
	}
}

func matrixNode(g *gorgonia.ExprGraph, name string, rows, cols int, data []float64) *gorgonia.Node {
	return gorgonia.NewMatrix(
		g,
		gorgonia.Float64,
		gorgonia.WithShape(rows, cols),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))),
	)
}

func mustFloats(t *testing.T, v gorgonia.Value) []float64 {
	t.Helper()
	data, err := valueToFloats(v)
	if err != nil {
		t.Fatalf("Can't read value: %v", err)
	}
	return data
}

func mustScalar(t *testing.T, v gorgonia.Value) float64 {
	t.Helper()
	x, err := scalarOf(v)
	if err != nil {
		t.Fatalf("Can't read scalar: %v", err)
	}
	return x
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// testConfig Tiny configuration which builds in milliseconds
func testConfig(towers int) Config {
	cfg := DefaultConfig()
	cfg.ImageSize = 2
	cfg.ImageWidth = 2
	cfg.ZDim = 8
	cfg.GfDim = 4
	cfg.DfDim = 4
	cfg.NumClasses = 10
	cfg.GeneratorType = "test"
	cfg.DiscriminatorType = "test"
	cfg.NumTowers = towers
	cfg.BatchSize = 4
	cfg.DataParallelism = 2
	cfg.ShuffleBufferSize = 8
	cfg.LogEvery = 0
	cfg.CheckpointEvery = 0
	return cfg
}

func testLatents(g *gorgonia.ExprGraph, cfg Config) gorgonia.Nodes {
	zs := make(gorgonia.Nodes, cfg.NumTowers)
	for i := range zs {
		zs[i] = gorgonia.NewMatrix(
			g,
			gorgonia.Float64,
			gorgonia.WithShape(cfg.BatchSize, cfg.ZDim),
			gorgonia.WithName("z_"+string(rune('a'+i))),
			gorgonia.WithValue(NormRandDense(cfg.BatchSize, cfg.ZDim)),
		)
	}
	return zs
}

func testPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	source := NewSyntheticSource(32, cfg.NumClasses, cfg.ImageShape(), cfg.Seed)
	p, err := NewPipeline(source, PipelineConfig{
		ImageShape:        cfg.ImageShape(),
		NumClasses:        cfg.NumClasses,
		CycleLength:       cfg.DataParallelism,
		ShuffleBufferSize: cfg.ShuffleBufferSize,
		Seed:              cfg.Seed,
	})
	if err != nil {
		t.Fatalf("Can't create pipeline: %v", err)
	}
	return p
}

// newTestModel Returns constructed (not built) model
func newTestModel(t *testing.T, cfg Config, devices []Device) *SNGAN {
	t.Helper()
	g := gorgonia.NewGraph()
	m, err := NewSNGAN(testLatents(g, cfg), cfg, NewStepCounter("global_step"), devices, testPipeline(t, cfg))
	if err != nil {
		t.Fatalf("Can't create model: %v", err)
	}
	return m
}

func newBuiltModel(t *testing.T, cfg Config, devices []Device) *SNGAN {
	t.Helper()
	m := newTestModel(t, cfg, devices)
	if err := m.BuildModel(); err != nil {
		t.Fatalf("Can't build model: %v", err)
	}
	return m
}
