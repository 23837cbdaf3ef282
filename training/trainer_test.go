package training

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-petal/checkpoints"
	"github.com/tsawler/go-petal/engine"
	"github.com/tsawler/go-petal/extractor"
	"github.com/tsawler/go-petal/optimizer"
	"github.com/tsawler/go-petal/vision/dataset"
	"github.com/tsawler/go-petal/vision/preprocessing"
)

const trainerTestArch = "pooled-32"

func init() {
	extractor.Register(trainerTestArch, func() (extractor.FeatureExtractor, error) {
		return extractor.NewPooled(trainerTestArch, 32)
	})
}

// recordingWriter captures every checkpoint the trainer saves.
type recordingWriter struct {
	saves []*checkpoints.Checkpoint
	paths []string
}

func (w *recordingWriter) Save(cp *checkpoints.Checkpoint, path string) error {
	w.saves = append(w.saves, cp)
	w.paths = append(w.paths, path)
	return nil
}

// writeSplitTree lays out root/train and root/valid ImageFolder trees
// with perClass images in each of the rose and tulip classes.
func writeSplitTree(t *testing.T, root string, trainPerClass, validPerClass int) {
	t.Helper()
	classColors := map[string]color.RGBA{
		"rose":  {R: 220, G: 50, B: 60, A: 255},
		"tulip": {R: 60, G: 50, B: 220, A: 255},
	}
	counts := map[string]int{"train": trainPerClass, "valid": validPerClass}
	for split, n := range counts {
		for class, c := range classColors {
			dir := filepath.Join(root, split, class)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatalf("MkdirAll failed: %v", err)
			}
			for i := 0; i < n; i++ {
				shade := c
				shade.G = uint8(int(shade.G) + 13*i)
				writeJPEG(t, filepath.Join(dir, "img"+string(rune('0'+i))+".jpg"), shade, 64)
			}
		}
	}
}

func testTrainerModel(t *testing.T, seed int64) *engine.Model {
	t.Helper()
	splits := testSplits(t, 2, 1)
	model, err := engine.Build(engine.Config{
		Arch:    trainerTestArch,
		Hidden1: 16,
		Hidden2: 8,
		Dropout: 0.2,
		Seed:    seed,
	}, splits.Train.Classes())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { model.Close() })
	return model
}

func testSplits(t *testing.T, trainPerClass, validPerClass int) *dataset.Splits {
	t.Helper()
	root := t.TempDir()
	writeSplitTree(t, root, trainPerClass, validPerClass)
	splits, err := dataset.LoadSplits(root)
	if err != nil {
		t.Fatalf("LoadSplits failed: %v", err)
	}
	return splits
}

func TestFitSavesOnEqualValidationLoss(t *testing.T) {
	splits := testSplits(t, 2, 1)
	model, err := engine.Build(engine.Config{
		Arch: trainerTestArch, Hidden1: 16, Hidden2: 8, Dropout: 0, Seed: 5,
	}, splits.Train.Classes())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer model.Close()

	// Zero learning rate freezes the head, so every validation pass
	// reproduces the same loss and each one ties the best.
	adamConfig := optimizer.DefaultAdamConfig()
	adamConfig.LearningRate = 0
	writer := &recordingWriter{}

	trainer, err := NewTrainerWithWriter(model, optimizer.NewAdam(adamConfig), writer, Config{
		Epochs:         2,
		TargetBatches:  2,
		LearningRate:   0,
		ReportEvery:    2,
		CheckpointPath: filepath.Join(t.TempDir(), "best.json"),
		Seed:           3,
		Quiet:          true,
	})
	if err != nil {
		t.Fatalf("NewTrainerWithWriter failed: %v", err)
	}

	result, err := trainer.Fit(splits.Train, splits.Valid)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// 4 samples at target 2 batches gives 2 steps per epoch, 4 total.
	// Validation runs at the first step, at step 2, and at the final
	// step, and each tie re-saves.
	if result.Steps != 4 {
		t.Errorf("expected 4 steps, got %d", result.Steps)
	}
	if len(writer.saves) != 3 {
		t.Fatalf("expected 3 checkpoint saves on tied losses, got %d", len(writer.saves))
	}
	wantSteps := []int{1, 2, 4}
	for i, cp := range writer.saves {
		if cp.TrainingState.Step != wantSteps[i] {
			t.Errorf("save %d at step %d, want %d", i, cp.TrainingState.Step, wantSteps[i])
		}
		if cp.TrainingState.BestLoss != result.BestLoss {
			t.Errorf("save %d recorded loss %v, want %v", i, cp.TrainingState.BestLoss, result.BestLoss)
		}
	}
	if result.Saves != 3 {
		t.Errorf("result reports %d saves, want 3", result.Saves)
	}
}

func TestFitValidationSchedule(t *testing.T) {
	splits := testSplits(t, 3, 1)
	model, err := engine.Build(engine.Config{
		Arch: trainerTestArch, Hidden1: 16, Hidden2: 8, Dropout: 0.2, Seed: 5,
	}, splits.Train.Classes())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer model.Close()

	writer := &recordingWriter{}
	trainer, err := NewTrainerWithWriter(model, optimizer.NewAdam(optimizer.DefaultAdamConfig()), writer, Config{
		Epochs:         2,
		TargetBatches:  3,
		LearningRate:   0.001,
		ReportEvery:    5,
		CheckpointPath: filepath.Join(t.TempDir(), "best.json"),
		Seed:           9,
		Quiet:          true,
	})
	if err != nil {
		t.Fatalf("NewTrainerWithWriter failed: %v", err)
	}

	result, err := trainer.Fit(splits.Train, splits.Valid)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// 6 samples at target 3 batches gives 3 steps per epoch, 6 total:
	// validation at steps 1, 5, and 6.
	if result.Steps != 6 {
		t.Errorf("expected 6 steps, got %d", result.Steps)
	}
	if len(writer.saves) == 0 {
		t.Fatal("expected at least the first validation to save")
	}
	if writer.saves[0].TrainingState.Step != 1 {
		t.Errorf("first save at step %d, want 1", writer.saves[0].TrainingState.Step)
	}
	// Saved losses never increase: later saves only happen at or below
	// the best.
	for i := 1; i < len(writer.saves); i++ {
		if writer.saves[i].TrainingState.BestLoss > writer.saves[i-1].TrainingState.BestLoss {
			t.Errorf("save %d loss %v exceeds previous best %v",
				i, writer.saves[i].TrainingState.BestLoss, writer.saves[i-1].TrainingState.BestLoss)
		}
	}
	for _, cp := range writer.saves {
		if cp.TrainingState.TotalSteps != 6 {
			t.Errorf("save recorded total steps %d, want 6", cp.TrainingState.TotalSteps)
		}
	}
}

func TestTrainerConfigValidation(t *testing.T) {
	model := testTrainerModel(t, 2)
	opt := optimizer.NewAdam(optimizer.DefaultAdamConfig())
	good := Config{Epochs: 1, TargetBatches: 1, CheckpointPath: "best.json"}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero target batches", func(c *Config) { c.TargetBatches = 0 }},
		{"missing checkpoint path", func(c *Config) { c.CheckpointPath = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			if _, err := NewTrainer(model, opt, cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}

	if _, err := NewTrainer(nil, opt, good); err == nil {
		t.Error("expected error for nil model")
	}
	if _, err := NewTrainer(model, nil, good); err == nil {
		t.Error("expected error for nil optimizer")
	}

	t.Run("empty datasets", func(t *testing.T) {
		trainer, err := NewTrainer(model, opt, good)
		if err != nil {
			t.Fatalf("NewTrainer failed: %v", err)
		}
		empty := &memoryDataset{}
		if _, err := trainer.Fit(empty, empty); err == nil {
			t.Error("expected error for empty datasets")
		}
	})
}

func TestFitEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSplitTree(t, root, 3, 2)
	splits, err := dataset.LoadSplits(root)
	if err != nil {
		t.Fatalf("LoadSplits failed: %v", err)
	}

	classes := splits.Train.Classes()
	if idx, _ := classes.Index("rose"); idx != 0 {
		t.Fatalf("expected rose at index 0, got %d", idx)
	}
	if idx, _ := classes.Index("tulip"); idx != 1 {
		t.Fatalf("expected tulip at index 1, got %d", idx)
	}

	model, err := engine.Build(engine.Config{
		Arch: trainerTestArch, Hidden1: 16, Hidden2: 8, Dropout: 0.2, Seed: 4,
	}, classes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer model.Close()

	checkpointPath := filepath.Join(t.TempDir(), "best.json")
	adamConfig := optimizer.DefaultAdamConfig()
	adamConfig.LearningRate = 0.01

	trainer, err := NewTrainer(model, optimizer.NewAdam(adamConfig), Config{
		Epochs:         3,
		TargetBatches:  3,
		LearningRate:   0.01,
		ReportEvery:    1,
		CheckpointPath: checkpointPath,
		Seed:           4,
		Quiet:          true,
	})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	result, err := trainer.Fit(splits.Train, splits.Valid)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.Saves < 1 {
		t.Fatal("expected at least one checkpoint save")
	}
	if math.IsInf(float64(result.BestLoss), 1) {
		t.Fatal("best loss never set")
	}

	// The best checkpoint is on disk and loads into a working model.
	cp, err := checkpoints.NewSaver().Load(checkpointPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cp.Classes.Equal(classes) {
		t.Error("checkpoint class mapping differs from the training set")
	}

	restored, err := engine.FromCheckpoint(cp, 1)
	if err != nil {
		t.Fatalf("FromCheckpoint failed: %v", err)
	}
	defer restored.Close()

	imgPath, _, err := splits.Valid.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	img, err := preprocessing.Decode(imgPath)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	input, err := preprocessing.Eval(img)
	if err != nil {
		t.Fatalf("Eval transform failed: %v", err)
	}

	preds, err := restored.Predict(input, 2)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(preds))
	}
	var total float64
	for _, p := range preds {
		if p.Label != "rose" && p.Label != "tulip" {
			t.Errorf("unexpected label %q", p.Label)
		}
		total += float64(p.Probability)
	}
	if math.Abs(total-1) > 1e-4 {
		t.Errorf("probabilities sum to %v, want 1", total)
	}
}
