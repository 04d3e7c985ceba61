package sngan_go

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DataBatch Real data of single replica: images [batch, image size] and one-hot labels [batch, num_classes]
type DataBatch struct {
	Images *gorgonia.Node
	Labels *gorgonia.Node
}

// BatchSource Provides per-replica data batches. Called once, while replica #0 is built.
type BatchSource interface {
	GetBatches(g *gorgonia.ExprGraph, batchSize, numReplicas int) ([]DataBatch, error)
}

// PipelineConfig Settings of input pipeline
//
// CycleLength - number of examples loaded concurrently
// ShuffleBufferSize - number of examples to sample from
//
type PipelineConfig struct {
	ImageShape        ImageShape
	NumClasses        int
	CycleLength       int
	ShuffleBufferSize int
	Seed              int64
}

// Pipeline Repeating, shuffling input pipeline over ExampleSource. Feeds graph placeholders with gorgonia.Let.
type Pipeline struct {
	source ExampleSource
	cfg    PipelineConfig
	rng    *rand.Rand

	cursor  int
	pending []Example
	buffer  []Example

	batchSize int
	batches   []DataBatch
	fed       int
}

// NewPipeline Returns pipeline over source
func NewPipeline(source ExampleSource, cfg PipelineConfig) (*Pipeline, error) {
	if source == nil || source.Len() == 0 {
		return nil, configErrorf("pipeline needs non-empty example source")
	}
	if cfg.NumClasses <= 0 || cfg.ImageShape.Size() <= 0 {
		return nil, configErrorf("pipeline needs positive number of classes and image size, but got %d and %d", cfg.NumClasses, cfg.ImageShape.Size())
	}
	if cfg.CycleLength <= 0 {
		cfg.CycleLength = 1
	}
	if cfg.ShuffleBufferSize <= 0 {
		cfg.ShuffleBufferSize = 1
	}
	return &Pipeline{
		source: source,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(uint64(cfg.Seed))),
	}, nil
}

// GetBatches Creates placeholders for every replica and fills them with the first batch
func (p *Pipeline) GetBatches(g *gorgonia.ExprGraph, batchSize, numReplicas int) ([]DataBatch, error) {
	if p.batches != nil {
		return nil, errors.New("batches have been requested already")
	}
	if batchSize <= 0 || numReplicas <= 0 {
		return nil, configErrorf("batch size and number of replicas must be positive, but got %d and %d", batchSize, numReplicas)
	}
	p.batchSize = batchSize
	batches := make([]DataBatch, numReplicas)
	for i := range batches {
		batches[i] = DataBatch{
			Images: gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, p.cfg.ImageShape.Size()), gorgonia.WithName(fmt.Sprintf("tower_%d/images", i)), gorgonia.WithInit(gorgonia.Zeroes())),
			Labels: gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, p.cfg.NumClasses), gorgonia.WithName(fmt.Sprintf("tower_%d/labels", i)), gorgonia.WithInit(gorgonia.Zeroes())),
		}
	}
	p.batches = batches
	if err := p.Feed(); err != nil {
		return nil, errors.Wrap(err, "Can't feed first batch")
	}
	return batches, nil
}

// Feed Binds next batch to every replica's placeholders
func (p *Pipeline) Feed() error {
	if p.batches == nil {
		return errors.New("batches have not been requested yet")
	}
	size := p.cfg.ImageShape.Size()
	for r, batch := range p.batches {
		images := make([]float64, p.batchSize*size)
		labels := make([]int, p.batchSize)
		for i := 0; i < p.batchSize; i++ {
			ex, err := p.next()
			if err != nil {
				return errors.Wrapf(err, "Can't get example for replica #%d", r)
			}
			if len(ex.Image) != size {
				return errors.Errorf("example has %d values, but image size is %d", len(ex.Image), size)
			}
			if ex.Label < 0 || ex.Label >= p.cfg.NumClasses {
				return errors.Errorf("label %d is out of range [0;%d)", ex.Label, p.cfg.NumClasses)
			}
			copy(images[i*size:(i+1)*size], ex.Image)
			labels[i] = ex.Label
		}
		err := gorgonia.Let(batch.Images, tensor.New(tensor.WithShape(p.batchSize, size), tensor.WithBacking(images)))
		if err != nil {
			return errors.Wrapf(err, "Can't bind images of replica #%d", r)
		}
		err = gorgonia.Let(batch.Labels, OneHot(labels, p.cfg.NumClasses))
		if err != nil {
			return errors.Wrapf(err, "Can't bind labels of replica #%d", r)
		}
	}
	p.fed++
	return nil
}

// Fed Returns number of batches bound so far (the first one is bound by GetBatches)
func (p *Pipeline) Fed() int {
	return p.fed
}

// next Takes random example from shuffle buffer, refilling it first
func (p *Pipeline) next() (Example, error) {
	for len(p.buffer) < p.cfg.ShuffleBufferSize {
		if len(p.pending) == 0 {
			if err := p.load(); err != nil {
				return Example{}, err
			}
		}
		p.buffer = append(p.buffer, p.pending[0])
		p.pending = p.pending[1:]
	}
	i := p.rng.Intn(len(p.buffer))
	ex := p.buffer[i]
	last := len(p.buffer) - 1
	p.buffer[i] = p.buffer[last]
	p.buffer = p.buffer[:last]
	return ex, nil
}

// load Reads next CycleLength examples concurrently. Source is repeated endlessly.
func (p *Pipeline) load() error {
	n := p.cfg.CycleLength
	indices := make([]int, n)
	for i := range indices {
		indices[i] = p.cursor
		p.cursor = (p.cursor + 1) % p.source.Len()
	}
	examples := make([]Example, n)
	var mu sync.Mutex
	var firstErr error
	forEach(n, p.cfg.CycleLength, func(i int) {
		ex, err := p.source.Example(indices[i])
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "Can't load example #%d", indices[i])
			}
			mu.Unlock()
			return
		}
		examples[i] = ex
	})
	if firstErr != nil {
		return firstErr
	}
	p.pending = append(p.pending, examples...)
	return nil
}
