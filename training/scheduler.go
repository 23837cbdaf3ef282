package training

import (
	"math"
)

// LRScheduler maps training progress to a learning rate. Schedulers
// are pure functions of epoch and step so they can be swapped without
// carrying state across runs.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch and step.
	GetLR(epoch, step int, baseLR float32) float32

	// GetName returns the scheduler name for logging.
	GetName() string
}

// NoOpScheduler keeps the base learning rate for the whole run.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch, step int, baseLR float32) float32 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "constant"
}

// StepLRScheduler multiplies the learning rate by gamma every stepSize
// epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float32
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float32) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 5
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch, step int, baseLR float32) float32 {
	times := epoch / s.StepSize
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(times)))
}

func (s *StepLRScheduler) GetName() string {
	return "step"
}

// ExponentialLRScheduler decays the learning rate by gamma every epoch.
type ExponentialLRScheduler struct {
	Gamma float32
}

// NewExponentialLRScheduler creates an exponential decay scheduler.
func NewExponentialLRScheduler(gamma float32) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch, step int, baseLR float32) float32 {
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(epoch)))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "exponential"
}
