package extractor

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

const pooledGrid = 8

// DefaultArch is the builtin extractor registered at package load.
const DefaultArch = "pooled-2048"

func init() {
	Register(DefaultArch, func() (FeatureExtractor, error) {
		return NewPooled(DefaultArch, 2048)
	})
}

// Pooled is a pure-Go extractor: per-channel average pooling over a fixed
// grid followed by a random projection whose weights are derived
// deterministically from the architecture tag. Rebuilding a Pooled extractor
// from the same tag always yields bit-identical features, which is the
// property checkpoints rely on. It needs no external runtime, so it also
// backs the test suite.
type Pooled struct {
	name       string
	dim        int
	projection []float32 // [pooledDim x dim], row-major
}

// NewPooled builds a pooled extractor with the given tag and feature size.
func NewPooled(name string, dim int) (*Pooled, error) {
	if dim <= 0 {
		return nil, errors.Errorf("invalid feature dimension %d", dim)
	}

	pooledDim := 3 * pooledGrid * pooledGrid
	hash := fnv.New64a()
	hash.Write([]byte(name))
	rng := rand.New(rand.NewSource(int64(hash.Sum64())))

	scale := float32(math.Sqrt(2.0 / float64(pooledDim)))
	projection := make([]float32, pooledDim*dim)
	for i := range projection {
		projection[i] = float32(rng.NormFloat64()) * scale
	}

	return &Pooled{name: name, dim: dim, projection: projection}, nil
}

func (p *Pooled) Name() string { return p.name }

func (p *Pooled) Dim() int { return p.dim }

func (p *Pooled) Close() error { return nil }

// Features average-pools each channel over a pooledGrid x pooledGrid grid,
// projects the pooled vector, and applies tanh to keep features bounded.
func (p *Pooled) Features(batch *tensor.Tensor) (*tensor.Tensor, error) {
	n, err := validateBatch(batch)
	if err != nil {
		return nil, err
	}
	h, w := batch.Shape[2], batch.Shape[3]
	if h < pooledGrid || w < pooledGrid {
		return nil, errors.Errorf("input %dx%d smaller than pooling grid", h, w)
	}

	pooledDim := 3 * pooledGrid * pooledGrid
	out, err := tensor.Zeros([]int{n, p.dim})
	if err != nil {
		return nil, err
	}

	pooled := make([]float32, pooledDim)
	cellH := h / pooledGrid
	cellW := w / pooledGrid

	for i := 0; i < n; i++ {
		sample := batch.Data[i*3*h*w : (i+1)*3*h*w]
		for c := 0; c < 3; c++ {
			plane := sample[c*h*w : (c+1)*h*w]
			for gy := 0; gy < pooledGrid; gy++ {
				for gx := 0; gx < pooledGrid; gx++ {
					var sum float32
					for y := gy * cellH; y < (gy+1)*cellH; y++ {
						for x := gx * cellW; x < (gx+1)*cellW; x++ {
							sum += plane[y*w+x]
						}
					}
					pooled[c*pooledGrid*pooledGrid+gy*pooledGrid+gx] = sum / float32(cellH*cellW)
				}
			}
		}

		features := out.Data[i*p.dim : (i+1)*p.dim]
		for j := 0; j < p.dim; j++ {
			var acc float32
			for k := 0; k < pooledDim; k++ {
				acc += pooled[k] * p.projection[k*p.dim+j]
			}
			features[j] = float32(math.Tanh(float64(acc)))
		}
	}

	return out, nil
}
