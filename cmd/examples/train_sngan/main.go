package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"

	sngan "github.com/LdDl/sngan-go"
)

var (
	defaults = sngan.DefaultConfig()

	discriminatorLR   = flag.Float64("discriminator_learning_rate", defaults.DiscriminatorLearningRate, "Learning rate of discriminator")
	generatorLR       = flag.Float64("generator_learning_rate", defaults.GeneratorLearningRate, "Learning rate of generator")
	beta1             = flag.Float64("beta1", defaults.Beta1, "Momentum term of Adam")
	imageSize         = flag.Int("image_size", 16, "Height and width of square images")
	imageWidth        = flag.Int("image_width", 16, "Width of images in sample grids")
	zDim              = flag.Int("z_dim", 32, "Dimensionality of latent code z")
	gfDim             = flag.Int("gf_dim", 16, "Width multiplier of generator")
	dfDim             = flag.Int("df_dim", 16, "Width multiplier of discriminator")
	numClasses        = flag.Int("number_classes", 10, "Number of classes")
	generatorType     = flag.String("generator_type", defaults.GeneratorType, "baseline or test")
	discriminatorType = flag.String("discriminator_type", defaults.DiscriminatorType, "baseline or test")
	numTowers         = flag.Int("num_towers", defaults.NumTowers, "Number of device replicas")
	devicesList       = flag.String("devices", "", "Comma-separated devices of replicas, e.g. '/cpu:0,/cpu:1'. Discovered from host when empty")
	batchSize         = flag.Int("batch_size", 16, "Batch size of each replica")
	dataParallelism   = flag.Int("data_parallelism", 8, "Number of examples loaded concurrently")
	shuffleBufferSize = flag.Int("shuffle_buffer_size", 256, "Size of shuffle buffer")
	discIters         = flag.Int("disc_iters", defaults.DiscIters, "Discriminator iterations per generator iteration")
	numExamples       = flag.Int("num_examples", 2048, "Number of synthetic examples")
	steps             = flag.Int("steps", 2000, "Number of training steps")
	logEvery          = flag.Int("log_every", 100, "Log summaries every N steps")
	checkpointEvery   = flag.Int("checkpoint_every", 1000, "Save checkpoint every N steps")
	restore           = flag.String("restore", "", "Checkpoint (.json or .pb) to restore from")
	outputDir         = flag.String("output_dir", defaults.OutputDir, "Directory for plots, samples and checkpoints")
	seed              = flag.Int64("seed", defaults.Seed, "Random seed")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	// Latent codes are drawn from global source
	rand.Seed(*seed)

	cfg := sngan.Config{
		ImageSize:                 *imageSize,
		ImageWidth:                *imageWidth,
		ZDim:                      *zDim,
		GfDim:                     *gfDim,
		DfDim:                     *dfDim,
		NumClasses:                *numClasses,
		GeneratorType:             *generatorType,
		DiscriminatorType:         *discriminatorType,
		DiscriminatorLearningRate: *discriminatorLR,
		GeneratorLearningRate:     *generatorLR,
		Beta1:                     *beta1,
		NumTowers:                 *numTowers,
		BatchSize:                 *batchSize,
		DataParallelism:           *dataParallelism,
		ShuffleBufferSize:         *shuffleBufferSize,
		DiscIters:                 *discIters,
		LogEvery:                  *logEvery,
		CheckpointEvery:           *checkpointEvery,
		OutputDir:                 *outputDir,
		Seed:                      *seed,
	}
	if err := run(cfg); err != nil {
		log.Fatalln(err)
	}
}

// run Trains model. Trainer is closed on every exit path.
func run(cfg sngan.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Printf("Host: %s\n", sngan.HostDescription())

	var devices []sngan.Device
	var err error
	if cfg.NumTowers > 1 {
		if *devicesList != "" {
			devices, err = sngan.ParseDevices(*devicesList)
		} else {
			devices, err = sngan.DiscoverDevices(cfg.NumTowers)
		}
		if err != nil {
			return err
		}
		log.Printf("Devices: %v\n", devices)
	}

	source := sngan.NewSyntheticSource(*numExamples, cfg.NumClasses, cfg.ImageShape(), cfg.Seed)
	trainer, err := sngan.NewTrainer(cfg, source, devices, log.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := trainer.Close(); err != nil {
			log.Println("Can't close trainer:", err)
		}
	}()
	log.Println(trainer.Model())

	if *restore != "" {
		format, err := sngan.FormatFromPath(*restore)
		if err != nil {
			return err
		}
		if err := sngan.LoadCheckpoint(trainer.Model(), *restore, format); err != nil {
			return err
		}
		log.Printf("Restored from '%s' at step %d\n", *restore, trainer.Model().GlobalStep().Value())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := trainer.Run(ctx, *steps); err != nil {
		if err == context.Canceled {
			log.Printf("Interrupted at step %d\n", trainer.Model().GlobalStep().Value())
			return nil
		}
		return err
	}
	log.Printf("Done %d steps, outputs are in '%s'\n", trainer.Model().GlobalStep().Value(), cfg.OutputDir)
	return nil
}
