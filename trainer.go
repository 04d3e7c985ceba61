package sngan_go

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Trainer Training loop over built SNGAN: DiscIters discriminator iterations followed by one generator iteration per step
type Trainer struct {
	cfg        Config
	model      *SNGAN
	pipeline   *Pipeline
	dMachine   gorgonia.VM
	gMachine   gorgonia.VM
	globalStep *StepCounter
	logger     *log.Logger
	history    LossHistory
}

// NewTrainer Creates graph, latents, input pipeline and model, builds model and compiles both of its graphs.
//
// source - examples for input pipeline
// devices - compute devices (needed only when cfg.NumTowers > 1)
// logger - destination of training logs (standard logger is used when nil)
//
func NewTrainer(cfg Config, source ExampleSource, devices []Device, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	g := gorgonia.NewGraph()
	zs := make(gorgonia.Nodes, cfg.NumTowers)
	for i := range zs {
		zs[i] = gorgonia.NewMatrix(
			g,
			gorgonia.Float64,
			gorgonia.WithShape(cfg.BatchSize, cfg.ZDim),
			gorgonia.WithName(fmt.Sprintf("tower_%d/z", i)),
			gorgonia.WithValue(NormRandDense(cfg.BatchSize, cfg.ZDim)),
		)
	}
	pipeline, err := NewPipeline(source, PipelineConfig{
		ImageShape:        cfg.ImageShape(),
		NumClasses:        cfg.NumClasses,
		CycleLength:       cfg.DataParallelism,
		ShuffleBufferSize: cfg.ShuffleBufferSize,
		Seed:              cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Can't create input pipeline")
	}
	globalStep := NewStepCounter("global_step")
	model, err := NewSNGAN(zs, cfg, globalStep, devices, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create model")
	}
	if err := model.BuildModel(); err != nil {
		return nil, errors.Wrap(err, "Can't build model")
	}
	return &Trainer{
		cfg:        cfg,
		model:      model,
		pipeline:   pipeline,
		dMachine:   gorgonia.NewTapeMachine(model.Graph()),
		gMachine:   gorgonia.NewTapeMachine(model.GeneratorGraph()),
		globalStep: globalStep,
		logger:     logger,
	}, nil
}

// Model Returns trained model
func (t *Trainer) Model() *SNGAN {
	return t.model
}

// History Returns losses of every finished step
func (t *Trainer) History() *LossHistory {
	return &t.history
}

// Step Does single training step and returns its summary.
// Every discriminator iteration is fed with fresh batch. Generator iteration runs generator graph only, it has no real data.
func (t *Trainer) Step() (Summary, error) {
	for i := 0; i < t.cfg.DiscIters; i++ {
		if err := t.pipeline.Feed(); err != nil {
			return Summary{}, errors.Wrap(err, "Can't feed data batch")
		}
		if err := t.run(t.dMachine, t.model.DOptim()); err != nil {
			return Summary{}, errors.Wrapf(err, "Can't do discriminator iteration #%d", i)
		}
		if err := t.model.UpdateStatistics(); err != nil {
			return Summary{}, errors.Wrap(err, "Can't update spectral norm statistics")
		}
	}
	if err := t.run(t.gMachine, t.model.GOptim()); err != nil {
		return Summary{}, errors.Wrap(err, "Can't do generator iteration")
	}
	summary, err := t.model.Summaries()
	if err != nil {
		return Summary{}, errors.Wrap(err, "Can't collect summaries")
	}
	if err := t.model.IncrementGlobalStep().Run(); err != nil {
		return Summary{}, errors.Wrap(err, "Can't increment global step")
	}
	summary.GlobalStep = t.globalStep.Value()
	t.history.Append(summary.GlobalStep, summary.DLoss, summary.GLoss)
	if summary.GlobalStep == 1 {
		t.logger.Printf("First step: %s\n", summary.Moments())
	}
	return summary, nil
}

// run Resamples latents and class conditioning, runs graph of machine and applies op
func (t *Trainer) run(machine gorgonia.VM, op Op) error {
	defer machine.Reset()
	if err := t.model.SampleLatents(); err != nil {
		return err
	}
	if err := t.model.SampleClasses(); err != nil {
		return err
	}
	if err := machine.RunAll(); err != nil {
		return errors.Wrap(err, "Can't run graph")
	}
	return op.Run()
}

// Run Does given number of steps. Context is checked between steps.
func (t *Trainer) Run(ctx context.Context, steps int) error {
	if err := os.MkdirAll(t.cfg.OutputDir, 0755); err != nil {
		return errors.Wrapf(err, "Can't create output directory '%s'", t.cfg.OutputDir)
	}
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		summary, err := t.Step()
		if err != nil {
			return errors.Wrapf(err, "Can't do step #%d", t.globalStep.Value()+1)
		}
		step := summary.GlobalStep
		if t.cfg.LogEvery > 0 && step%int64(t.cfg.LogEvery) == 0 {
			if err := t.report(summary); err != nil {
				return err
			}
		}
		if t.cfg.CheckpointEvery > 0 && step%int64(t.cfg.CheckpointEvery) == 0 {
			fname := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("ckpt_%06d.pb", step))
			if err := SaveCheckpoint(t.model, fname, FormatProto); err != nil {
				return errors.Wrap(err, "Can't save checkpoint")
			}
			t.logger.Printf("Checkpoint has been saved to '%s'\n", fname)
		}
	}
	return nil
}

// report Logs summary, plots losses and saves grid of generated images
func (t *Trainer) report(summary Summary) error {
	t.logger.Println(summary)
	if len(summary.SigmaRatios) > 0 {
		t.logger.Printf("Sigma ratios: %s\n", summary.SigmaRatiosString())
	}
	if err := PlotLosses(&t.history, filepath.Join(t.cfg.OutputDir, "losses.png")); err != nil {
		return errors.Wrap(err, "Can't plot losses")
	}
	images, err := t.model.GeneratedImages()
	if err != nil {
		return errors.Wrap(err, "Can't get generated images")
	}
	fname := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("samples_%06d.png", summary.GlobalStep))
	if err := SaveImageGrid(images, t.cfg.ImageShape(), t.cfg.BatchSize, fname); err != nil {
		return errors.Wrap(err, "Can't save generated images")
	}
	return nil
}

// Close Releases machines of both graphs
func (t *Trainer) Close() error {
	dErr := t.dMachine.Close()
	if err := t.gMachine.Close(); err != nil {
		return err
	}
	return dErr
}
