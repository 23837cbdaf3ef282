package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// NLLLoss computes the mean negative log-likelihood of the targets
// under the model's log-probabilities [N, C].
func NLLLoss(logp *tensor.Tensor, targets []int32) (float32, error) {
	n, c, err := checkLogits(logp, targets)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i, y := range targets {
		sum -= float64(logp.Data[i*c+int(y)])
	}
	return float32(sum / float64(n)), nil
}

// NLLGradient returns the loss gradient with respect to the
// log-probabilities: -1/N at each target class, zero elsewhere.
func NLLGradient(logp *tensor.Tensor, targets []int32) (*tensor.Tensor, error) {
	n, c, err := checkLogits(logp, targets)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Zeros(logp.Shape)
	if err != nil {
		return nil, err
	}
	scale := -1 / float32(n)
	for i, y := range targets {
		grad.Data[i*c+int(y)] = scale
	}
	return grad, nil
}

// Accuracy returns the fraction of rows whose argmax matches the
// target. Within a row, ties resolve to the lower class index.
func Accuracy(logp *tensor.Tensor, targets []int32) (float32, error) {
	n, c, err := checkLogits(logp, targets)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, y := range targets {
		row := logp.Data[i*c : (i+1)*c]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == int(y) {
			correct++
		}
	}
	return float32(correct) / float32(n), nil
}

func checkLogits(logp *tensor.Tensor, targets []int32) (n, c int, err error) {
	if logp == nil || len(logp.Shape) != 2 {
		return 0, 0, errors.New("log-probabilities must be [batch, classes]")
	}
	n, c = logp.Shape[0], logp.Shape[1]
	if n == 0 {
		return 0, 0, errors.New("empty batch")
	}
	if len(targets) != n {
		return 0, 0, errors.Errorf("have %d targets for batch of %d", len(targets), n)
	}
	for i, y := range targets {
		if y < 0 || int(y) >= c {
			return 0, 0, errors.Errorf("target %d out of range: %d not in [0, %d)", i, y, c)
		}
	}
	return n, c, nil
}
