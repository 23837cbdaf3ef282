package optimizer

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns the standard Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates. Moment state is allocated lazily against the parameter
// shapes seen on the first step.
type Adam struct {
	config    AdamConfig
	momentum  [][]float32
	variance  [][]float32
	stepCount uint64
}

// NewAdam creates an Adam optimizer.
func NewAdam(config AdamConfig) *Adam {
	return &Adam{config: config}
}

// Step applies one Adam update to the parameters in place.
func (a *Adam) Step(params, grads []*tensor.Tensor) error {
	if err := validateStep(params, grads); err != nil {
		return err
	}

	if a.momentum == nil {
		a.momentum = make([][]float32, len(params))
		a.variance = make([][]float32, len(params))
		for i, p := range params {
			a.momentum[i] = make([]float32, p.NumElems)
			a.variance[i] = make([]float32, p.NumElems)
		}
	}
	if len(a.momentum) != len(params) {
		return errors.Errorf("parameter count changed: %d vs %d", len(params), len(a.momentum))
	}

	a.stepCount++
	t := float64(a.stepCount)
	correction1 := 1 - math.Pow(float64(a.config.Beta1), t)
	correction2 := 1 - math.Pow(float64(a.config.Beta2), t)

	for i, p := range params {
		m := a.momentum[i]
		v := a.variance[i]
		if len(m) != p.NumElems {
			return errors.Errorf("parameter %d size changed: %d vs %d", i, p.NumElems, len(m))
		}

		for j, g := range grads[i].Data {
			if a.config.WeightDecay != 0 {
				g += a.config.WeightDecay * p.Data[j]
			}
			m[j] = a.config.Beta1*m[j] + (1-a.config.Beta1)*g
			v[j] = a.config.Beta2*v[j] + (1-a.config.Beta2)*g*g

			mHat := float64(m[j]) / correction1
			vHat := float64(v[j]) / correction2
			p.Data[j] -= a.config.LearningRate * float32(mHat/(math.Sqrt(vHat)+float64(a.config.Epsilon)))
		}
	}

	return nil
}

// StepCount returns the number of updates applied.
func (a *Adam) StepCount() uint64 {
	return a.stepCount
}

// SetLearningRate updates the learning rate.
func (a *Adam) SetLearningRate(lr float32) {
	a.config.LearningRate = lr
}
