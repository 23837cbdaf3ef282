package engine

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// ErrInvalidArgument reports a prediction request that cannot be
// satisfied, such as asking for more classes than the model knows.
var ErrInvalidArgument = errors.New("invalid argument")

// Prediction is one ranked class from a top-k query.
type Prediction struct {
	Class       int
	Label       string
	Probability float32
}

// Predict runs a single preprocessed image [3, 224, 224] (or a batch of
// one, [1, 3, 224, 224]) through the frozen extractor and the head in
// Eval mode and returns the top k classes by probability, descending.
// Equal probabilities rank the lower class index first.
func (m *Model) Predict(img *tensor.Tensor, k int) ([]Prediction, error) {
	if k < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "k must be positive, got %d", k)
	}
	if k > m.classes.Len() {
		return nil, errors.Wrapf(ErrInvalidArgument, "k=%d exceeds %d classes", k, m.classes.Len())
	}

	batch, err := asBatchOfOne(img)
	if err != nil {
		return nil, err
	}

	features, err := m.Features(batch)
	if err != nil {
		return nil, err
	}
	logp, _, err := m.ForwardHead(features, Eval)
	if err != nil {
		return nil, err
	}

	probs := make([]float32, m.classes.Len())
	for i := range probs {
		probs[i] = float32(math.Exp(float64(logp.Data[i])))
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	// Stable sort with strict > keeps ties in class-index order.
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	out := make([]Prediction, k)
	for i := 0; i < k; i++ {
		idx := order[i]
		name, _ := m.classes.Name(idx)
		out[i] = Prediction{
			Class:       idx,
			Label:       name,
			Probability: probs[idx],
		}
	}
	return out, nil
}

func asBatchOfOne(img *tensor.Tensor) (*tensor.Tensor, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil image tensor")
	}
	switch len(img.Shape) {
	case 3:
		return img.Reshape([]int{1, img.Shape[0], img.Shape[1], img.Shape[2]})
	case 4:
		if img.Shape[0] != 1 {
			return nil, errors.Wrapf(ErrInvalidArgument, "expected a single image, got batch of %d", img.Shape[0])
		}
		return img, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "expected [3, H, W] or [1, 3, H, W], got %v", img.Shape)
	}
}
