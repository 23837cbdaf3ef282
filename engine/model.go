package engine

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/checkpoints"
	"github.com/tsawler/go-petal/extractor"
	"github.com/tsawler/go-petal/labels"
	"github.com/tsawler/go-petal/layers"
	"github.com/tsawler/go-petal/tensor"
)

// Mode selects the forward-pass behavior. Dropout is active in Train
// mode and a no-op in Eval mode.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "Train"
	case Eval:
		return "Eval"
	default:
		return "Unknown"
	}
}

// Model pairs a frozen feature extractor with a trainable classifier
// head. Only the head's parameters are updated during training; the
// extractor runs forward-only.
type Model struct {
	arch      string
	extractor extractor.FeatureExtractor
	head      *layers.ModelSpec
	params    []*tensor.Tensor
	classes   *labels.Mapping
	rng       *rand.Rand
}

// Config describes a new model to build. The head's output width comes
// from the class mapping, its input width from the extractor.
type Config struct {
	Arch    string
	Hidden1 int
	Hidden2 int
	Dropout float32
	Seed    int64
}

// DefaultConfig returns the standard transfer-learning head layout.
func DefaultConfig() Config {
	return Config{
		Arch:    extractor.DefaultArch,
		Hidden1: 2048,
		Hidden2: 1024,
		Dropout: 0.2,
		Seed:    1,
	}
}

// Build constructs a model with a freshly initialized head. Dense
// weights use He initialization, biases start at zero, and both the
// init and subsequent dropout draws are driven by cfg.Seed.
func Build(cfg Config, classes *labels.Mapping) (*Model, error) {
	if classes == nil || classes.Len() == 0 {
		return nil, errors.New("class mapping is required")
	}

	ext, err := extractor.Open(cfg.Arch)
	if err != nil {
		return nil, err
	}

	head, err := layers.ClassifierHead(ext.Dim(), cfg.Hidden1, cfg.Hidden2, classes.Len(), cfg.Dropout)
	if err != nil {
		ext.Close()
		return nil, errors.Wrap(err, "failed to build classifier head")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	params, err := initParameters(head, rng)
	if err != nil {
		ext.Close()
		return nil, err
	}

	return &Model{
		arch:      cfg.Arch,
		extractor: ext,
		head:      head,
		params:    params,
		classes:   classes,
		rng:       rng,
	}, nil
}

// FromCheckpoint reconstructs a model from a saved checkpoint. The
// extractor named by the checkpoint's architecture tag must be
// registered, and its feature width must match the head's input.
func FromCheckpoint(cp *checkpoints.Checkpoint, seed int64) (*Model, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	ext, err := extractor.Open(cp.Arch)
	if err != nil {
		return nil, err
	}

	featureDim := cp.Head.InputShape[len(cp.Head.InputShape)-1]
	if ext.Dim() != featureDim {
		ext.Close()
		return nil, errors.Wrapf(checkpoints.ErrCorrupt,
			"extractor %q produces %d features but head expects %d",
			cp.Arch, ext.Dim(), featureDim)
	}

	params, err := checkpoints.RestoreWeights(cp.Weights)
	if err != nil {
		ext.Close()
		return nil, errors.Wrapf(checkpoints.ErrCorrupt, "failed to restore weights: %v", err)
	}

	return &Model{
		arch:      cp.Arch,
		extractor: ext,
		head:      cp.Head,
		params:    params,
		classes:   cp.Classes,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Snapshot packages the current head state as a checkpoint.
func (m *Model) Snapshot(state checkpoints.TrainingState) (*checkpoints.Checkpoint, error) {
	weights, err := checkpoints.GatherWeights(m.params, m.head)
	if err != nil {
		return nil, err
	}
	return &checkpoints.Checkpoint{
		Arch:          m.arch,
		Head:          m.head,
		Weights:       weights,
		Classes:       m.classes,
		TrainingState: state,
	}, nil
}

// Parameters returns the trainable head parameters in specification
// order. The extractor contributes none.
func (m *Model) Parameters() []*tensor.Tensor {
	return m.params
}

// Classes returns the class index mapping the model was built with.
func (m *Model) Classes() *labels.Mapping {
	return m.classes
}

// Head returns the head's compiled specification.
func (m *Model) Head() *layers.ModelSpec {
	return m.head
}

// Arch returns the extractor architecture tag.
func (m *Model) Arch() string {
	return m.arch
}

// Features runs the frozen extractor over an image batch.
func (m *Model) Features(batch *tensor.Tensor) (*tensor.Tensor, error) {
	return m.extractor.Features(batch)
}

// Close releases the extractor's resources.
func (m *Model) Close() error {
	return m.extractor.Close()
}

func initParameters(spec *layers.ModelSpec, rng *rand.Rand) ([]*tensor.Tensor, error) {
	params := make([]*tensor.Tensor, 0, len(spec.ParameterShapes))
	for _, shape := range spec.ParameterShapes {
		t, err := tensor.Zeros(shape)
		if err != nil {
			return nil, err
		}
		if len(shape) == 2 {
			// He initialization scaled by the fan-in.
			std := float32(math.Sqrt(2.0 / float64(shape[0])))
			for i := range t.Data {
				t.Data[i] = float32(rng.NormFloat64()) * std
			}
		}
		params = append(params, t)
	}
	return params, nil
}
