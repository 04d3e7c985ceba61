package sngan_go

// Config Immutable training configuration. It is copied into the model on construction.
//
// Network part:
// ImageSize - height and width of square images (channels are always 3)
// ImageWidth - width of images presented in image grids
// ZDim - dimensionality of latent code z
// GfDim, DfDim - width multipliers of generator and discriminator
// NumClasses - number of classes in the dataset
// GeneratorType, DiscriminatorType - "baseline" or "test"
//
// Optimization part:
// DiscriminatorLearningRate, GeneratorLearningRate - Adam learning rates
// Beta1 - momentum term of Adam
//
// Orchestration part:
// NumTowers - number of device replicas
// BatchSize - batch size of each replica
// DataParallelism - number of examples loaded concurrently
// ShuffleBufferSize - size of shuffle buffer of input pipeline
//
// Training loop part (not used by model construction):
// DiscIters - discriminator steps per generator step
// LogEvery, CheckpointEvery - periods in global steps (0 disables)
// OutputDir - directory for plots, image grids and checkpoints
// Seed - seed for all random sources
//
type Config struct {
	ImageSize         int
	ImageWidth        int
	ZDim              int
	GfDim             int
	DfDim             int
	NumClasses        int
	GeneratorType     string
	DiscriminatorType string

	DiscriminatorLearningRate float64
	GeneratorLearningRate     float64
	Beta1                     float64

	NumTowers         int
	BatchSize         int
	DataParallelism   int
	ShuffleBufferSize int

	DiscIters       int
	LogEvery        int
	CheckpointEvery int
	OutputDir       string
	Seed            int64
}

// DefaultConfig Returns configuration with defaults of reference ImageNet setup
func DefaultConfig() Config {
	return Config{
		ImageSize:         128,
		ImageWidth:        128,
		ZDim:              128,
		GfDim:             64,
		DfDim:             64,
		NumClasses:        1000,
		GeneratorType:     "baseline",
		DiscriminatorType: "baseline",

		DiscriminatorLearningRate: 0.0004,
		GeneratorLearningRate:     0.0004,
		Beta1:                     0.0,

		NumTowers:         1,
		BatchSize:         64,
		DataParallelism:   64,
		ShuffleBufferSize: 10000,

		DiscIters:       1,
		LogEvery:        100,
		CheckpointEvery: 1000,
		OutputDir:       "./output",
		Seed:            1337,
	}
}

// ImageShape Returns shape of single image
func (cfg Config) ImageShape() ImageShape {
	return ImageShape{Height: cfg.ImageSize, Width: cfg.ImageSize, Channels: 3}
}

// Validate Checks configuration values and resolves network variants.
func (cfg Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"image_size", cfg.ImageSize},
		{"z_dim", cfg.ZDim},
		{"gf_dim", cfg.GfDim},
		{"df_dim", cfg.DfDim},
		{"number_classes", cfg.NumClasses},
		{"num_towers", cfg.NumTowers},
		{"batch_size", cfg.BatchSize},
		{"data_parallelism", cfg.DataParallelism},
		{"shuffle_buffer_size", cfg.ShuffleBufferSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return configErrorf("%s must be positive, but got %d", p.name, p.value)
		}
	}
	if cfg.DiscriminatorLearningRate <= 0 || cfg.GeneratorLearningRate <= 0 {
		return configErrorf("learning rates must be positive, but got %v (discriminator) and %v (generator)", cfg.DiscriminatorLearningRate, cfg.GeneratorLearningRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 {
		return configErrorf("beta1 must be in [0;1), but got %v", cfg.Beta1)
	}
	if _, err := ParseGeneratorVariant(cfg.GeneratorType); err != nil {
		return err
	}
	if _, err := ParseDiscriminatorVariant(cfg.DiscriminatorType); err != nil {
		return err
	}
	return nil
}

// ImageShape Height x Width x Channels of single image. Images travel through graph flattened.
type ImageShape struct {
	Height   int
	Width    int
	Channels int
}

// Size Returns number of elements in single flattened image
func (s ImageShape) Size() int {
	return s.Height * s.Width * s.Channels
}
