// Package extractor provides frozen pretrained feature extractors: networks
// that map a batch of image tensors to fixed-size feature vectors. Extractors
// expose no parameters and are never updated; a checkpoint records only the
// architecture tag, and the registry rebuilds the extractor from it.
package extractor

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// ErrUnknownArch reports an architecture tag with no registered factory.
var ErrUnknownArch = errors.New("unknown extractor architecture")

// FeatureExtractor maps image batches [N, 3, 224, 224] to features [N, Dim].
type FeatureExtractor interface {
	// Name returns the architecture tag recorded in checkpoints.
	Name() string
	// Dim returns the feature vector length.
	Dim() int
	// Features runs a frozen forward pass over the batch.
	Features(batch *tensor.Tensor) (*tensor.Tensor, error)
	// Close releases any backend resources.
	Close() error
}

// Factory builds a feature extractor for its registered tag.
type Factory func() (FeatureExtractor, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register associates an architecture tag with a factory. Registering a tag
// twice replaces the previous factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open builds the extractor registered under the given tag.
func Open(name string) (FeatureExtractor, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownArch, "%q", name)
	}
	return factory()
}

// Registered reports whether a tag has a factory.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// validateBatch checks the [N, 3, H, W] input convention.
func validateBatch(batch *tensor.Tensor) (n int, err error) {
	if len(batch.Shape) != 4 || batch.Shape[1] != 3 {
		return 0, errors.Errorf("expected batch shape [N 3 H W], got %v", batch.Shape)
	}
	return batch.Shape[0], nil
}
