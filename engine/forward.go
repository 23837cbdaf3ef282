package engine

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/layers"
	"github.com/tsawler/go-petal/tensor"
)

// ForwardState caches the per-layer activations and dropout masks from
// one forward pass, so BackwardHead can compute gradients for it. A
// state is valid for exactly one backward call over the same batch.
type ForwardState struct {
	batch  int
	inputs [][]float32 // activation entering each layer
	masks  [][]float32 // dropout masks, nil for other layers
	output *tensor.Tensor
}

// Output returns the log-probabilities produced by the forward pass.
func (fs *ForwardState) Output() *tensor.Tensor {
	return fs.output
}

// ForwardHead runs the classifier head over a feature batch [N, D] and
// returns per-class log-probabilities [N, C]. In Train mode dropout
// masks are sampled and cached in the returned state.
func (m *Model) ForwardHead(features *tensor.Tensor, mode Mode) (*tensor.Tensor, *ForwardState, error) {
	if features == nil || len(features.Shape) != 2 {
		return nil, nil, errors.Errorf("features must be [batch, dim], got %v", shapeOf(features))
	}
	featureDim := m.head.InputShape[len(m.head.InputShape)-1]
	if features.Shape[1] != featureDim {
		return nil, nil, errors.Errorf("feature width %d does not match head input %d",
			features.Shape[1], featureDim)
	}

	n := features.Shape[0]
	state := &ForwardState{
		batch:  n,
		inputs: make([][]float32, len(m.head.Layers)),
		masks:  make([][]float32, len(m.head.Layers)),
	}

	act := make([]float32, len(features.Data))
	copy(act, features.Data)
	width := featureDim

	paramIndex := 0
	for li, layer := range m.head.Layers {
		state.inputs[li] = act
		switch layer.Type {
		case layers.Dense:
			outSize := layer.OutputShape[1]
			w := m.params[paramIndex]
			b := m.params[paramIndex+1]
			paramIndex += 2
			act = denseForward(act, n, width, outSize, w.Data, b.Data)
			width = outSize
		case layers.ReLU:
			act = reluForward(act)
		case layers.Dropout:
			if mode == Train {
				rate := layers.GetFloatParam(layer.Parameters, "rate", 0)
				mask := m.sampleDropoutMask(len(act), rate)
				state.masks[li] = mask
				act = applyMask(act, mask)
			} else {
				next := make([]float32, len(act))
				copy(next, act)
				act = next
			}
		case layers.LogSoftmax:
			act = logSoftmaxForward(act, n, width)
		default:
			return nil, nil, errors.Errorf("unsupported layer type: %s", layer.Type)
		}
	}

	out, err := tensor.New([]int{n, width}, act)
	if err != nil {
		return nil, nil, err
	}
	state.output = out
	return out, state, nil
}

// BackwardHead propagates the gradient of the loss with respect to the
// head's output (the log-probabilities) back through the head, and
// returns gradients aligned with Parameters().
func (m *Model) BackwardHead(state *ForwardState, gradOutput *tensor.Tensor) ([]*tensor.Tensor, error) {
	if state == nil || state.output == nil {
		return nil, errors.New("backward requires a forward state")
	}
	if gradOutput == nil || !gradOutput.SameShape(state.output) {
		return nil, errors.Errorf("gradient shape %v does not match output %v",
			shapeOf(gradOutput), state.output.Shape)
	}

	n := state.batch
	grads := make([]*tensor.Tensor, len(m.params))

	grad := make([]float32, len(gradOutput.Data))
	copy(grad, gradOutput.Data)

	paramIndex := len(m.params)
	for li := len(m.head.Layers) - 1; li >= 0; li-- {
		layer := m.head.Layers[li]
		input := state.inputs[li]
		switch layer.Type {
		case layers.Dense:
			paramIndex -= 2
			w := m.params[paramIndex]
			inSize := w.Shape[0]
			outSize := w.Shape[1]

			gw, err := tensor.Zeros([]int{inSize, outSize})
			if err != nil {
				return nil, err
			}
			gb, err := tensor.Zeros([]int{outSize})
			if err != nil {
				return nil, err
			}
			grad = denseBackward(input, grad, n, inSize, outSize, w.Data, gw.Data, gb.Data)
			grads[paramIndex] = gw
			grads[paramIndex+1] = gb
		case layers.ReLU:
			grad = reluBackward(input, grad)
		case layers.Dropout:
			if mask := state.masks[li]; mask != nil {
				grad = applyMask(grad, mask)
			}
		case layers.LogSoftmax:
			grad = logSoftmaxBackward(state.output.Data, grad, n, len(grad)/n)
		default:
			return nil, errors.Errorf("unsupported layer type: %s", layer.Type)
		}
	}
	if paramIndex != 0 {
		return nil, errors.Errorf("backward consumed %d of %d parameters",
			len(m.params)-paramIndex, len(m.params))
	}
	return grads, nil
}

// sampleDropoutMask draws an inverted-dropout mask: surviving units are
// scaled by 1/(1-rate) so eval needs no rescaling.
func (m *Model) sampleDropoutMask(n int, rate float32) []float32 {
	mask := make([]float32, n)
	if rate <= 0 {
		for i := range mask {
			mask[i] = 1
		}
		return mask
	}
	keep := 1 - rate
	scale := 1 / keep
	for i := range mask {
		if float32(m.rng.Float64()) < keep {
			mask[i] = scale
		}
	}
	return mask
}

func denseForward(x []float32, n, inSize, outSize int, w, b []float32) []float32 {
	out := make([]float32, n*outSize)
	for i := 0; i < n; i++ {
		row := x[i*inSize : (i+1)*inSize]
		dst := out[i*outSize : (i+1)*outSize]
		copy(dst, b)
		for k, xv := range row {
			if xv == 0 {
				continue
			}
			wRow := w[k*outSize : (k+1)*outSize]
			for j := range dst {
				dst[j] += xv * wRow[j]
			}
		}
	}
	return out
}

func denseBackward(x, grad []float32, n, inSize, outSize int, w, gw, gb []float32) []float32 {
	gx := make([]float32, n*inSize)
	for i := 0; i < n; i++ {
		xRow := x[i*inSize : (i+1)*inSize]
		gRow := grad[i*outSize : (i+1)*outSize]
		gxRow := gx[i*inSize : (i+1)*inSize]

		for j, gv := range gRow {
			gb[j] += gv
		}
		for k, xv := range xRow {
			wRow := w[k*outSize : (k+1)*outSize]
			gwRow := gw[k*outSize : (k+1)*outSize]
			var acc float32
			for j, gv := range gRow {
				gwRow[j] += xv * gv
				acc += gv * wRow[j]
			}
			gxRow[k] = acc
		}
	}
	return gx
}

func reluForward(x []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

func reluBackward(x, grad []float32) []float32 {
	gx := make([]float32, len(grad))
	for i, v := range x {
		if v > 0 {
			gx[i] = grad[i]
		}
	}
	return gx
}

func applyMask(x, mask []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = v * mask[i]
	}
	return out
}

// logSoftmaxForward computes log-softmax per row with the max-shift
// trick for numerical stability.
func logSoftmaxForward(x []float32, n, width int) []float32 {
	out := make([]float32, len(x))
	for i := 0; i < n; i++ {
		row := x[i*width : (i+1)*width]
		dst := out[i*width : (i+1)*width]

		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - max))
		}
		logSum := float32(math.Log(sum)) + max
		for j, v := range row {
			dst[j] = v - logSum
		}
	}
	return out
}

// logSoftmaxBackward uses dlogits = dy - softmax * sum(dy), with the
// softmax recovered as exp of the cached log-probabilities.
func logSoftmaxBackward(logp, grad []float32, n, width int) []float32 {
	gx := make([]float32, len(grad))
	for i := 0; i < n; i++ {
		lpRow := logp[i*width : (i+1)*width]
		gRow := grad[i*width : (i+1)*width]
		gxRow := gx[i*width : (i+1)*width]

		var sum float64
		for _, g := range gRow {
			sum += float64(g)
		}
		for j, g := range gRow {
			p := float32(math.Exp(float64(lpRow[j])))
			gxRow[j] = g - p*float32(sum)
		}
	}
	return gx
}

func shapeOf(t *tensor.Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
