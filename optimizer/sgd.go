package optimizer

import (
	"github.com/tsawler/go-petal/tensor"
)

// SGDConfig holds SGD hyperparameters.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// DefaultSGDConfig returns a plain SGD configuration with momentum 0.9.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
	}
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	config    SGDConfig
	velocity  [][]float32
	stepCount uint64
}

// NewSGD creates an SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	return &SGD{config: config}
}

// Step applies one SGD update to the parameters in place.
func (s *SGD) Step(params, grads []*tensor.Tensor) error {
	if err := validateStep(params, grads); err != nil {
		return err
	}

	if s.config.Momentum != 0 && s.velocity == nil {
		s.velocity = make([][]float32, len(params))
		for i, p := range params {
			s.velocity[i] = make([]float32, p.NumElems)
		}
	}

	s.stepCount++

	for i, p := range params {
		for j, g := range grads[i].Data {
			if s.config.WeightDecay != 0 {
				g += s.config.WeightDecay * p.Data[j]
			}
			if s.config.Momentum != 0 {
				vel := s.config.Momentum*s.velocity[i][j] + g
				s.velocity[i][j] = vel
				g = vel
			}
			p.Data[j] -= s.config.LearningRate * g
		}
	}

	return nil
}

// StepCount returns the number of updates applied.
func (s *SGD) StepCount() uint64 {
	return s.stepCount
}

// SetLearningRate updates the learning rate.
func (s *SGD) SetLearningRate(lr float32) {
	s.config.LearningRate = lr
}
