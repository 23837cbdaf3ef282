package training

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/checkpoints"
	"github.com/tsawler/go-petal/engine"
	"github.com/tsawler/go-petal/optimizer"
)

// CheckpointWriter persists a checkpoint. *checkpoints.Saver satisfies
// it; tests substitute recorders.
type CheckpointWriter interface {
	Save(cp *checkpoints.Checkpoint, path string) error
}

// Config holds the training run configuration.
type Config struct {
	Epochs         int
	TargetBatches  int // batches per epoch; sets the batch size
	LearningRate   float32
	ReportEvery    int // steps between validation passes and reports
	CheckpointPath string
	CacheSize      int
	Seed           int64
	Scheduler      LRScheduler
	Quiet          bool
}

// DefaultConfig mirrors the standard fine-tuning run.
func DefaultConfig(checkpointPath string) Config {
	return Config{
		Epochs:         3,
		TargetBatches:  8,
		LearningRate:   0.001,
		ReportEvery:    5,
		CheckpointPath: checkpointPath,
		Seed:           1,
	}
}

// Result summarizes a completed run.
type Result struct {
	Steps          int
	BestLoss       float32
	BestAccuracy   float32
	Saves          int
	FinalTrainLoss float32
}

// Trainer drives the fine-tuning loop: forward and backward over the
// trainable head with the extractor frozen, periodic validation, and a
// checkpoint of the best model by validation loss.
type Trainer struct {
	model     *engine.Model
	optimizer optimizer.Optimizer
	writer    CheckpointWriter
	config    Config
	out       io.Writer
}

// NewTrainer wires a model and optimizer into a trainer that saves
// checkpoints with the standard saver.
func NewTrainer(model *engine.Model, opt optimizer.Optimizer, config Config) (*Trainer, error) {
	return newTrainer(model, opt, checkpoints.NewSaver(), config)
}

// NewTrainerWithWriter is NewTrainer with an explicit checkpoint
// writer.
func NewTrainerWithWriter(model *engine.Model, opt optimizer.Optimizer, writer CheckpointWriter, config Config) (*Trainer, error) {
	return newTrainer(model, opt, writer, config)
}

func newTrainer(model *engine.Model, opt optimizer.Optimizer, writer CheckpointWriter, config Config) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("a model is required")
	}
	if opt == nil {
		return nil, errors.New("an optimizer is required")
	}
	if writer == nil {
		return nil, errors.New("a checkpoint writer is required")
	}
	if config.Epochs < 1 {
		return nil, errors.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.TargetBatches < 1 {
		return nil, errors.Errorf("target batches must be positive, got %d", config.TargetBatches)
	}
	if config.CheckpointPath == "" {
		return nil, errors.New("a checkpoint path is required")
	}
	if config.ReportEvery < 1 {
		config.ReportEvery = 5
	}
	if config.Scheduler == nil {
		config.Scheduler = &NoOpScheduler{}
	}
	var out io.Writer = os.Stdout
	if config.Quiet {
		out = io.Discard
	}
	return &Trainer{
		model:     model,
		optimizer: opt,
		writer:    writer,
		config:    config,
		out:       out,
	}, nil
}

// Fit runs the full training loop over the train and validation
// datasets and returns the run summary. Validation runs at the first
// step, every ReportEvery steps, and at the final step; whenever the
// validation loss is at or below the best seen so far the model is
// checkpointed, so a later equal loss refreshes the saved file.
func (t *Trainer) Fit(train, valid Dataset) (*Result, error) {
	if train == nil || train.Len() == 0 {
		return nil, errors.New("training dataset is empty")
	}
	if valid == nil || valid.Len() == 0 {
		return nil, errors.New("validation dataset is empty")
	}

	batchSize := BatchSizeFor(train.Len(), t.config.TargetBatches)
	cache := NewImageCache(cacheSizeOrDefault(t.config.CacheSize))

	trainLoader, err := NewDataLoader(train, LoaderConfig{
		BatchSize: batchSize,
		Shuffle:   true,
		Seed:      t.config.Seed,
		Transform: AugmentTransform(t.config.Seed + 1),
		Cache:     cache,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build training loader")
	}
	validLoader, err := NewDataLoader(valid, LoaderConfig{
		BatchSize: batchSize,
		Shuffle:   false,
		Seed:      t.config.Seed,
		Transform: EvalTransform(),
		Cache:     NewImageCache(cacheSizeOrDefault(t.config.CacheSize)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build validation loader")
	}

	totalSteps := t.config.Epochs * trainLoader.Batches()
	bestLoss := float32(math.Inf(1))
	bestAccuracy := float32(0)
	saves := 0
	step := 0
	start := time.Now()
	var window RunningMetrics
	var lastTrainLoss float32

	fmt.Fprintf(t.out, "Training %d epochs, %d steps per epoch, batch size %d, lr %g (%s)\n",
		t.config.Epochs, trainLoader.Batches(), batchSize,
		t.config.LearningRate, t.config.Scheduler.GetName())

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		trainLoader.Reset()
		t.optimizer.SetLearningRate(t.config.Scheduler.GetLR(epoch, step, t.config.LearningRate))

		for {
			batch, err := trainLoader.NextBatch()
			if err != nil {
				return nil, errors.Wrap(err, "failed to load training batch")
			}
			if batch == nil {
				break
			}
			step++

			loss, accuracy, err := t.trainStep(batch)
			if err != nil {
				return nil, errors.Wrapf(err, "training step %d failed", step)
			}
			window.AddBatch(loss, accuracy, batch.Size)

			if step == 1 || step%t.config.ReportEvery == 0 || step == totalSteps {
				validLoss, validAccuracy, err := t.Evaluate(validLoader)
				if err != nil {
					return nil, errors.Wrapf(err, "validation at step %d failed", step)
				}
				lastTrainLoss = window.Loss()

				fmt.Fprintf(t.out, "[%s] epoch %d/%d step %d/%d  train loss %.4f  valid loss %.4f  valid acc %.3f\n",
					time.Since(start).Round(time.Second), epoch+1, t.config.Epochs,
					step, totalSteps, window.Loss(), validLoss, validAccuracy)

				if validLoss <= bestLoss {
					bestLoss = validLoss
					bestAccuracy = validAccuracy
					if err := t.save(epoch, step, totalSteps, validLoss, validAccuracy); err != nil {
						return nil, err
					}
					saves++
					fmt.Fprintf(t.out, "  saved checkpoint (valid loss %.4f)\n", validLoss)
				}
				window.Reset()
			}
		}
	}

	return &Result{
		Steps:          step,
		BestLoss:       bestLoss,
		BestAccuracy:   bestAccuracy,
		Saves:          saves,
		FinalTrainLoss: lastTrainLoss,
	}, nil
}

func (t *Trainer) trainStep(batch *Batch) (loss, accuracy float32, err error) {
	features, err := t.model.Features(batch.Data)
	if err != nil {
		return 0, 0, err
	}
	logp, state, err := t.model.ForwardHead(features, engine.Train)
	if err != nil {
		return 0, 0, err
	}

	loss, err = NLLLoss(logp, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	accuracy, err = Accuracy(logp, batch.Labels)
	if err != nil {
		return 0, 0, err
	}

	grad, err := NLLGradient(logp, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	grads, err := t.model.BackwardHead(state, grad)
	if err != nil {
		return 0, 0, err
	}
	if err := t.optimizer.Step(t.model.Parameters(), grads); err != nil {
		return 0, 0, err
	}
	return loss, accuracy, nil
}

// Evaluate runs a full pass over the loader in Eval mode and returns
// the sample-weighted mean loss and accuracy.
func (t *Trainer) Evaluate(loader *DataLoader) (loss, accuracy float32, err error) {
	loader.Reset()
	var metrics RunningMetrics
	for {
		batch, err := loader.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		features, err := t.model.Features(batch.Data)
		if err != nil {
			return 0, 0, err
		}
		logp, _, err := t.model.ForwardHead(features, engine.Eval)
		if err != nil {
			return 0, 0, err
		}
		batchLoss, err := NLLLoss(logp, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		batchAccuracy, err := Accuracy(logp, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		metrics.AddBatch(batchLoss, batchAccuracy, batch.Size)
	}
	if metrics.Samples() == 0 {
		return 0, 0, errors.New("validation produced no samples")
	}
	return metrics.Loss(), metrics.Accuracy(), nil
}

func (t *Trainer) save(epoch, step, totalSteps int, validLoss, validAccuracy float32) error {
	cp, err := t.model.Snapshot(checkpoints.TrainingState{
		Epoch:        epoch,
		Step:         step,
		LearningRate: t.config.LearningRate,
		BestLoss:     validLoss,
		BestAccuracy: validAccuracy,
		TotalSteps:   totalSteps,
	})
	if err != nil {
		return errors.Wrap(err, "failed to snapshot model")
	}
	if err := t.writer.Save(cp, t.config.CheckpointPath); err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	return nil
}

func cacheSizeOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return 1000
}
