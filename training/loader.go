package training

import (
	"image"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
	"github.com/tsawler/go-petal/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Transform converts a decoded image into a normalized [3, 224, 224]
// tensor. Training loaders use a randomized augmentation transform,
// validation loaders the deterministic one.
type Transform func(img image.Image) (*tensor.Tensor, error)

// Batch is one step's worth of stacked inputs and labels.
type Batch struct {
	Data   *tensor.Tensor // [N, 3, 224, 224]
	Labels []int32
	Size   int
}

// LoaderConfig holds configuration for a DataLoader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	CacheSize int // decoded images to keep; 0 uses a default
	Transform Transform
	Cache     *ImageCache // optional shared cache
}

// DataLoader iterates a dataset in batches. With Shuffle set the visit
// order is re-drawn from the seeded source at every Reset, so each
// epoch sees a different permutation while the run as a whole stays
// reproducible.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	transform Transform
	rng       *rand.Rand
	cache     *ImageCache

	mu       sync.Mutex
	indices  []int
	position int
}

// NewDataLoader creates a data loader over the dataset.
func NewDataLoader(dataset Dataset, config LoaderConfig) (*DataLoader, error) {
	if config.BatchSize < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Transform == nil {
		return nil, errors.New("a transform is required")
	}
	if config.CacheSize == 0 {
		config.CacheSize = 1000
	}
	cache := config.Cache
	if cache == nil {
		cache = NewImageCache(config.CacheSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		transform: config.Transform,
		rng:       rand.New(rand.NewSource(config.Seed)),
		cache:     cache,
		indices:   indices,
	}
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	return dl, nil
}

// Reset rewinds the loader and, when shuffling, re-draws the order.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Batches returns the number of batches per epoch.
func (dl *DataLoader) Batches() int {
	n := len(dl.indices)
	return (n + dl.batchSize - 1) / dl.batchSize
}

// Progress returns the current position within the epoch.
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// NextBatch loads and transforms the next batch. It returns (nil, nil)
// when the epoch is exhausted. Images that fail to load or transform
// are skipped.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}

	batchSize := dl.batchSize
	if remaining < batchSize {
		batchSize = remaining
	}

	pixelsPerImage := preprocessing.Channels * preprocessing.TargetSize * preprocessing.TargetSize
	data := make([]float32, 0, batchSize*pixelsPerImage)
	labelData := make([]int32, 0, batchSize)

	for i := 0; i < batchSize && dl.position < len(dl.indices); i++ {
		idx := dl.indices[dl.position]
		dl.position++

		imagePath, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			continue
		}
		img, err := dl.loadImage(imagePath)
		if err != nil {
			continue
		}
		t, err := dl.transform(img)
		if err != nil {
			continue
		}
		data = append(data, t.Data...)
		labelData = append(labelData, int32(label))
	}

	n := len(labelData)
	if n == 0 {
		// Every item in the slice failed; report it rather than hand
		// back an empty batch.
		return nil, errors.New("no loadable images in batch")
	}

	batchTensor, err := tensor.New(
		[]int{n, preprocessing.Channels, preprocessing.TargetSize, preprocessing.TargetSize}, data)
	if err != nil {
		return nil, err
	}
	return &Batch{Data: batchTensor, Labels: labelData, Size: n}, nil
}

func (dl *DataLoader) loadImage(path string) (image.Image, error) {
	if img, ok := dl.cache.Get(path); ok {
		return img, nil
	}
	img, err := preprocessing.Decode(path)
	if err != nil {
		return nil, err
	}
	dl.cache.Put(path, img)
	return img, nil
}

// CacheStats returns the loader cache's hit/miss summary.
func (dl *DataLoader) CacheStats() string {
	return dl.cache.Stats()
}

// AugmentTransform returns a randomized training transform driven by
// the seeded source.
func AugmentTransform(seed int64) Transform {
	rng := rand.New(rand.NewSource(seed))
	return func(img image.Image) (*tensor.Tensor, error) {
		return preprocessing.Augment(img, rng)
	}
}

// EvalTransform returns the deterministic inference transform.
func EvalTransform() Transform {
	return preprocessing.Eval
}

// BatchSizeFor picks the batch size that splits n samples into roughly
// targetBatches batches per epoch.
func BatchSizeFor(n, targetBatches int) int {
	if n <= 0 || targetBatches <= 0 {
		return 1
	}
	size := (n + targetBatches - 1) / targetBatches
	if size < 1 {
		size = 1
	}
	return size
}
