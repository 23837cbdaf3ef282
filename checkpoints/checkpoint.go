package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/labels"
	"github.com/tsawler/go-petal/layers"
	"github.com/tsawler/go-petal/tensor"
)

// ErrCorrupt reports a checkpoint file whose contents fail structural
// validation: missing sections, weight shapes that disagree with the
// head specification, or an inconsistent class mapping.
var ErrCorrupt = errors.New("corrupt checkpoint")

// Checkpoint is the complete on-disk state of a fine-tuned classifier:
// the frozen extractor is identified by its architecture tag, while the
// trained head is stored in full (specification plus weights) together
// with the class mapping and training metadata. A checkpoint is
// self-describing: loading one requires no external configuration.
type Checkpoint struct {
	// Architecture tag of the frozen feature extractor.
	Arch string `json:"arch"`

	// Head architecture and weights.
	Head    *layers.ModelSpec `json:"head"`
	Weights []WeightTensor    `json:"weights"`

	// Class index mapping used during training.
	Classes *labels.Mapping `json:"classes"`

	// Training state at the time of the save.
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	BestAccuracy float32 `json:"best_accuracy"`
	TotalSteps   int     `json:"total_steps"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Saver writes and reads JSON checkpoints. Saves are atomic: the file
// is written to a temporary sibling and renamed into place, so a crash
// mid-write never clobbers the previous best checkpoint.
type Saver struct{}

// NewSaver creates a new checkpoint saver
func NewSaver() *Saver {
	return &Saver{}
}

// Save writes the checkpoint to path, replacing any existing file.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if err := checkpoint.Validate(); err != nil {
		return errors.Wrap(err, "refusing to save invalid checkpoint")
	}

	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-petal"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary checkpoint file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync checkpoint file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close checkpoint file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "failed to replace checkpoint file")
	}
	return nil
}

// Load reads a checkpoint from path and validates its structure.
// Structural problems are reported as ErrCorrupt.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "failed to decode checkpoint: %v", err)
	}

	if err := checkpoint.Validate(); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

// Validate checks the internal consistency of the checkpoint: the head
// specification must be a compiled classifier, every declared parameter
// must be present with matching shape and element count, and the class
// mapping must match the head's output width.
func (c *Checkpoint) Validate() error {
	if c.Arch == "" {
		return errors.Wrap(ErrCorrupt, "missing architecture tag")
	}
	if c.Head == nil {
		return errors.Wrap(ErrCorrupt, "missing head specification")
	}
	if err := c.Head.Validate(); err != nil {
		return errors.Wrapf(ErrCorrupt, "invalid head specification: %v", err)
	}
	if c.Classes == nil {
		return errors.Wrap(ErrCorrupt, "missing class mapping")
	}
	if len(c.Head.OutputShape) < 2 || c.Head.OutputShape[len(c.Head.OutputShape)-1] != c.Classes.Len() {
		return errors.Wrapf(ErrCorrupt, "head output width %v does not match %d classes",
			c.Head.OutputShape, c.Classes.Len())
	}

	if len(c.Weights) != len(c.Head.ParameterShapes) {
		return errors.Wrapf(ErrCorrupt, "expected %d weight tensors, found %d",
			len(c.Head.ParameterShapes), len(c.Weights))
	}
	for i, w := range c.Weights {
		expected := c.Head.ParameterShapes[i]
		if !shapeEqual(w.Shape, expected) {
			return errors.Wrapf(ErrCorrupt, "weight %q has shape %v, expected %v",
				w.Name, w.Shape, expected)
		}
		n := 1
		for _, d := range w.Shape {
			n *= d
		}
		if len(w.Data) != n {
			return errors.Wrapf(ErrCorrupt, "weight %q declares %v but holds %d values",
				w.Name, w.Shape, len(w.Data))
		}
	}
	return nil
}

// GatherWeights converts the head's parameter tensors into checkpoint
// weight records, paired layer by layer with the model specification.
// Parameter order follows the spec: weight then bias per dense layer.
func GatherWeights(params []*tensor.Tensor, spec *layers.ModelSpec) ([]WeightTensor, error) {
	if len(params) != len(spec.ParameterShapes) {
		return nil, errors.Errorf("expected %d parameter tensors, got %d",
			len(spec.ParameterShapes), len(params))
	}

	weights := make([]WeightTensor, 0, len(params))
	paramIndex := 0
	for _, layerSpec := range spec.Layers {
		if layerSpec.Type != layers.Dense {
			continue
		}
		kinds := []string{"weight"}
		if layers.GetBoolParam(layerSpec.Parameters, "use_bias", true) {
			kinds = append(kinds, "bias")
		}
		if paramIndex+len(kinds) > len(params) {
			return nil, errors.Errorf("insufficient parameter tensors for dense layer %s", layerSpec.Name)
		}

		for _, kind := range kinds {
			p := params[paramIndex]
			if !shapeEqual(p.Shape, spec.ParameterShapes[paramIndex]) {
				return nil, errors.Errorf("parameter %d for layer %s has shape %v, expected %v",
					paramIndex, layerSpec.Name, p.Shape, spec.ParameterShapes[paramIndex])
			}
			data := make([]float32, len(p.Data))
			copy(data, p.Data)
			weights = append(weights, WeightTensor{
				Name:  fmt.Sprintf("%s.%s", layerSpec.Name, kind),
				Shape: append([]int(nil), p.Shape...),
				Data:  data,
				Layer: layerSpec.Name,
				Type:  kind,
			})
			paramIndex++
		}
	}
	if paramIndex != len(params) {
		return nil, errors.Errorf("gathered %d of %d parameter tensors", paramIndex, len(params))
	}
	return weights, nil
}

// RestoreWeights rebuilds parameter tensors from checkpoint weight
// records. The checkpoint must already have passed Validate.
func RestoreWeights(weights []WeightTensor) ([]*tensor.Tensor, error) {
	params := make([]*tensor.Tensor, 0, len(weights))
	for _, w := range weights {
		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		t, err := tensor.New(append([]int(nil), w.Shape...), data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to restore weight %q", w.Name)
		}
		params = append(params, t)
	}
	return params, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
