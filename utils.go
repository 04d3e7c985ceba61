package sngan_go

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values in range [-inf;+inf] ([-maxF64;+maxF64 actually] actually)
//
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func NormRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = rand.NormFloat64()
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// OneHot Encodes sparse class indices as matrix [len(indices), numClasses]
func OneHot(indices []int, numClasses int) *tensor.Dense {
	data := make([]float64, len(indices)*numClasses)
	for i, idx := range indices {
		if idx >= 0 && idx < numClasses {
			data[i*numClasses+idx] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(indices), numClasses), tensor.WithBacking(data))
}

// constantLike Returns constant node with dtype of provided node
func constantLike(n *gorgonia.Node, v float64) *gorgonia.Node {
	if n.Dtype() == tensor.Float32 {
		return gorgonia.NewConstant(float32(v))
	}
	return gorgonia.NewConstant(v)
}

// valueToFloats Returns copy of value's data as []float64
func valueToFloats(v gorgonia.Value) ([]float64, error) {
	if v == nil {
		return nil, errors.New("value is nil")
	}
	switch data := v.Data().(type) {
	case float64:
		return []float64{data}, nil
	case float32:
		return []float64{float64(data)}, nil
	case []float64:
		ret := make([]float64, len(data))
		copy(ret, data)
		return ret, nil
	case []float32:
		ret := make([]float64, len(data))
		for i := range data {
			ret[i] = float64(data[i])
		}
		return ret, nil
	default:
		return nil, errors.Errorf("unsupported value data type %T", data)
	}
}

// scalarOf Returns single float of scalar (or single-element) value
func scalarOf(v gorgonia.Value) (float64, error) {
	data, err := valueToFloats(v)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, errors.Errorf("expected scalar, but got %d values", len(data))
	}
	return data[0], nil
}

// forEach executes a for loop with a limited number of concurrent goroutines.
// Each goroutine processes one integer, from 0 to length.
func forEach(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		return
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}
	wg.Wait()
}

// SquarestGridSize Returns (rows, columns) of the most square grid holding exactly n images
func SquarestGridSize(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	root := math.Sqrt(float64(n))
	width := 1
	for d := 1; float64(d) <= root; d++ {
		if n%d == 0 {
			width = d
		}
	}
	return n / width, width
}

// SaveImageGrid Saves first n flattened HWC images of batch (values in [-1;1]) as PNG grid
func SaveImageGrid(images gorgonia.Value, shape ImageShape, n int, fname string) error {
	data, err := valueToFloats(images)
	if err != nil {
		return errors.Wrap(err, "Can't read images")
	}
	size := shape.Size()
	if size == 0 || len(data)%size != 0 {
		return errors.Errorf("can't split %d values into images of size %d", len(data), size)
	}
	if available := len(data) / size; n > available || n <= 0 {
		n = available
	}
	rows, cols := SquarestGridSize(n)
	img := image.NewRGBA(image.Rect(0, 0, cols*shape.Width, rows*shape.Height))
	toByte := func(x float64) uint8 {
		v := (x + 1) * 127.5
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	for k := 0; k < n; k++ {
		offX := (k % cols) * shape.Width
		offY := (k / cols) * shape.Height
		base := k * size
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				pix := base + (y*shape.Width+x)*shape.Channels
				c := color.RGBA{A: 255}
				switch shape.Channels {
				case 1:
					c.R, c.G, c.B = toByte(data[pix]), toByte(data[pix]), toByte(data[pix])
				default:
					c.R, c.G, c.B = toByte(data[pix]), toByte(data[pix+1]), toByte(data[pix+2])
				}
				img.Set(offX+x, offY+y, c)
			}
		}
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "Can't encode PNG")
	}
	return nil
}

// LossHistory Losses of generator and discriminator by global step
type LossHistory struct {
	Steps []float64
	DLoss []float64
	GLoss []float64
}

// Append Stores losses of step
func (h *LossHistory) Append(step int64, dLoss, gLoss float64) {
	h.Steps = append(h.Steps, float64(step))
	h.DLoss = append(h.DLoss, dLoss)
	h.GLoss = append(h.GLoss, gLoss)
}

// PlotLosses Plot chart of losses by step
func PlotLosses(h *LossHistory, fname string) error {
	if len(h.Steps) == 0 {
		return errors.New("loss history is empty")
	}
	dData := make(plotter.XYs, len(h.Steps))
	gData := make(plotter.XYs, len(h.Steps))
	for i := range h.Steps {
		dData[i].X, dData[i].Y = h.Steps[i], h.DLoss[i]
		gData[i].X, gData[i].Y = h.Steps[i], h.GLoss[i]
	}
	dLine, err := plotter.NewLine(dData)
	if err != nil {
		return errors.Wrap(err, "Can't init discriminator loss line")
	}
	dLine.Color = color.RGBA{R: 255, B: 128, A: 255}
	gLine, err := plotter.NewLine(gData)
	if err != nil {
		return errors.Wrap(err, "Can't init generator loss line")
	}
	gLine.Color = color.RGBA{G: 128, B: 255, A: 255}
	p := plot.New()
	p.Title.Text = "Hinge losses"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	p.Add(dLine, gLine)
	p.Legend.Add("d_loss", dLine)
	p.Legend.Add("g_loss", gLine)
	// Save the plot to a PNG file.
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
