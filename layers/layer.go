// Package layers describes classifier-head architecture as pure configuration.
// A ModelSpec carries no execution logic; the engine package compiles it into
// runnable parameters. Keeping structure and execution apart lets the same
// spec travel inside a checkpoint and be rebuilt without the original code
// path that produced it.
package layers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// LayerType represents the type of neural network layer.
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Dropout
	LogSoftmax
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Dropout:
		return "Dropout"
	case LogSoftmax:
		return "LogSoftmax"
	default:
		return "Unknown"
	}
}

// LayerSpec defines a single layer's configuration. Parameters is kept as a
// generic map so the spec survives a JSON round trip inside a checkpoint;
// read it back through the typed param helpers.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete classifier head as layer configuration.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder assembles a ModelSpec layer by layer.
type ModelBuilder struct {
	inputShape []int
	layers     []LayerSpec
}

// NewModelBuilder creates a builder for the given input shape. For a
// classifier head the input shape is [batch, featureDim].
func NewModelBuilder(inputShape []int) *ModelBuilder {
	shape := make([]int, len(inputShape))
	copy(shape, inputShape)
	return &ModelBuilder{inputShape: shape}
}

// AddLayer appends an arbitrary layer spec.
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense appends a fully connected layer.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddReLU appends a ReLU activation.
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
}

// AddDropout appends a dropout layer. Dropout is active only in training
// mode; the rate is the probability of zeroing an activation.
func (mb *ModelBuilder) AddDropout(rate float32, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// AddLogSoftmax appends a log-softmax over the class dimension.
func (mb *ModelBuilder) AddLogSoftmax(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       LogSoftmax,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
}

// Compile computes per-layer shapes and parameter metadata and returns the
// finished spec.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, errors.New("cannot compile empty model")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compute layer %d (%s) info", i, layer.Name)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case ReLU, Dropout, LogSoftmax:
		// Shape-preserving layers with no parameters.
		out := make([]int, len(inputShape))
		copy(out, inputShape)
		return out, nil, 0, nil
	default:
		return nil, nil, 0, errors.Errorf("unsupported layer type: %s", layer.Type)
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 {
		return nil, nil, 0, errors.Errorf("dense layer requires 2D input, got %v", inputShape)
	}

	outputSize := GetIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, errors.New("missing or invalid output_size parameter")
	}
	useBias := GetBoolParam(layer.Parameters, "use_bias", true)

	inputSize := inputShape[1]
	layer.Parameters["input_size"] = inputSize

	outputShape := []int{inputShape[0], outputSize}

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}

	return outputShape, paramShapes, paramCount, nil
}

// ClassifierHead builds the transfer-learning head: two hidden ReLU layers
// with dropout after each, and a log-softmax output over numClasses.
func ClassifierHead(featureDim, hidden1, hidden2, numClasses int, dropout float32) (*ModelSpec, error) {
	return NewModelBuilder([]int{1, featureDim}).
		AddDense(hidden1, true, "fc1").
		AddReLU("relu1").
		AddDropout(dropout, "drop1").
		AddDense(hidden2, true, "fc2").
		AddReLU("relu2").
		AddDropout(dropout, "drop2").
		AddDense(numClasses, true, "output").
		AddLogSoftmax("logsoftmax").
		Compile()
}

// Summary returns a printable description of the compiled model.
func (ms *ModelSpec) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Model: %d layers, %d parameters\n", len(ms.Layers), ms.TotalParameters))
	for i, layer := range ms.Layers {
		sb.WriteString(fmt.Sprintf("  %d: %-12s %-12s %v -> %v", i, layer.Name, layer.Type, layer.InputShape, layer.OutputShape))
		if layer.ParameterCount > 0 {
			sb.WriteString(fmt.Sprintf("  (%d params)", layer.ParameterCount))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks that a spec (possibly decoded from a checkpoint) is a
// compiled classifier head the engine can execute.
func (ms *ModelSpec) Validate() error {
	if !ms.Compiled {
		return errors.New("model spec is not compiled")
	}
	if len(ms.Layers) == 0 {
		return errors.New("model spec has no layers")
	}
	if len(ms.InputShape) != 2 {
		return errors.Errorf("model spec input shape must be 2D, got %v", ms.InputShape)
	}
	for i, layer := range ms.Layers {
		switch layer.Type {
		case Dense:
			if GetIntParam(layer.Parameters, "output_size", 0) <= 0 {
				return errors.Errorf("layer %d (%s): missing output_size", i, layer.Name)
			}
		case ReLU, Dropout, LogSoftmax:
		default:
			return errors.Errorf("layer %d (%s): unsupported type %s", i, layer.Name, layer.Type)
		}
	}
	if ms.Layers[len(ms.Layers)-1].Type != LogSoftmax {
		return errors.New("classifier head must end with log-softmax")
	}
	return nil
}

// Typed readers for LayerSpec.Parameters. JSON decoding turns numbers into
// float64, so each reader accepts both the native type and its decoded form.

func GetIntParam(params map[string]interface{}, key string, defaultValue int) int {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return defaultValue
}

func GetBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return defaultValue
}

func GetFloatParam(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case float32:
			return v
		case float64:
			return float32(v)
		}
	}
	return defaultValue
}
