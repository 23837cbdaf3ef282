package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tsawler/go-petal/engine"
	"github.com/tsawler/go-petal/extractor"
	"github.com/tsawler/go-petal/optimizer"
	"github.com/tsawler/go-petal/training"
	"github.com/tsawler/go-petal/vision/dataset"
)

func main() {
	var (
		dataRoot   = flag.String("data", "", "dataset root containing train/ and valid/ class folders")
		arch       = flag.String("arch", extractor.DefaultArch, "feature extractor architecture tag")
		onnxPath   = flag.String("onnx", "", "ONNX model file backing the architecture tag")
		onnxDim    = flag.Int("onnx-dim", 2048, "feature width of the ONNX model")
		epochs     = flag.Int("epochs", 3, "training epochs")
		batches    = flag.Int("batches", 8, "target batches per epoch")
		lr         = flag.Float64("lr", 0.001, "learning rate")
		report     = flag.Int("report", 5, "steps between validation passes")
		checkpoint = flag.String("checkpoint", "best-model.json", "checkpoint output path")
		hidden1    = flag.Int("hidden1", 2048, "first hidden layer width")
		hidden2    = flag.Int("hidden2", 1024, "second hidden layer width")
		dropout    = flag.Float64("dropout", 0.2, "dropout rate")
		optName    = flag.String("optimizer", "adam", "optimizer: adam or sgd")
		schedule   = flag.String("schedule", "constant", "lr schedule: constant, step, or exponential")
		seed       = flag.Int64("seed", 1, "random seed")
	)
	flag.Parse()

	if *dataRoot == "" {
		log.Fatal("-data is required")
	}
	if *onnxPath != "" {
		extractor.RegisterONNX(*arch, *onnxPath, *onnxDim)
	}

	splits, err := dataset.LoadSplits(*dataRoot)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	fmt.Printf("train: %s\n", splits.Train)
	fmt.Printf("valid: %s\n", splits.Valid)

	model, err := engine.Build(engine.Config{
		Arch:    *arch,
		Hidden1: *hidden1,
		Hidden2: *hidden2,
		Dropout: float32(*dropout),
		Seed:    *seed,
	}, splits.Train.Classes())
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	defer model.Close()
	fmt.Print(model.Head().Summary())

	var opt optimizer.Optimizer
	switch *optName {
	case "adam":
		config := optimizer.DefaultAdamConfig()
		config.LearningRate = float32(*lr)
		opt = optimizer.NewAdam(config)
	case "sgd":
		config := optimizer.DefaultSGDConfig()
		config.LearningRate = float32(*lr)
		opt = optimizer.NewSGD(config)
	default:
		log.Fatalf("unknown optimizer %q", *optName)
	}

	var scheduler training.LRScheduler
	switch *schedule {
	case "constant":
		scheduler = &training.NoOpScheduler{}
	case "step":
		scheduler = training.NewStepLRScheduler(*epochs/2, 0.1)
	case "exponential":
		scheduler = training.NewExponentialLRScheduler(0.95)
	default:
		log.Fatalf("unknown schedule %q", *schedule)
	}

	trainer, err := training.NewTrainer(model, opt, training.Config{
		Epochs:         *epochs,
		TargetBatches:  *batches,
		LearningRate:   float32(*lr),
		ReportEvery:    *report,
		CheckpointPath: *checkpoint,
		Seed:           *seed,
		Scheduler:      scheduler,
	})
	if err != nil {
		log.Fatalf("failed to build trainer: %v", err)
	}

	result, err := trainer.Fit(splits.Train, splits.Valid)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	fmt.Printf("done: %d steps, best valid loss %.4f (acc %.3f), %d checkpoint saves -> %s\n",
		result.Steps, result.BestLoss, result.BestAccuracy, result.Saves, *checkpoint)
}
