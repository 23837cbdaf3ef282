// Package optimizer implements gradient-based parameter updates for the
// trainable classifier head. An optimizer is only ever handed the mutable
// parameter set; frozen feature-extractor parameters never reach it.
package optimizer

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// Optimizer updates parameters in place from their gradients.
type Optimizer interface {
	// Step applies one update. params[i] and grads[i] must have identical
	// shapes, and the same parameter list must be passed on every call.
	Step(params, grads []*tensor.Tensor) error

	// StepCount returns the number of updates applied so far.
	StepCount() uint64

	// SetLearningRate updates the learning rate for subsequent steps.
	SetLearningRate(lr float32)
}

func validateStep(params, grads []*tensor.Tensor) error {
	if len(params) == 0 {
		return errors.New("no parameters provided")
	}
	if len(params) != len(grads) {
		return errors.Errorf("parameter/gradient count mismatch: %d vs %d", len(params), len(grads))
	}
	for i := range params {
		if !params[i].SameShape(grads[i]) {
			return errors.Errorf("shape mismatch for parameter %d: %v vs %v", i, params[i].Shape, grads[i].Shape)
		}
	}
	return nil
}
