package extractor

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/tsawler/go-petal/tensor"
)

var ortInit sync.Once

// ONNX is a feature extractor backed by an exported pretrained backbone
// graph executed through the ONNX runtime. The graph must accept a
// [1, 3, 224, 224] float input named "input" and produce a [1, dim] float
// output named "output"; batches are run one sample at a time.
type ONNX struct {
	name         string
	dim          int
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// RegisterONNX registers a factory building an ONNX extractor for the given
// tag from a model file on disk.
func RegisterONNX(name, modelPath string, dim int) {
	Register(name, func() (FeatureExtractor, error) {
		return NewONNX(name, modelPath, dim)
	})
}

// NewONNX opens an ONNX backbone session.
func NewONNX(name, modelPath string, dim int) (*ONNX, error) {
	if dim <= 0 {
		return nil, errors.Errorf("invalid feature dimension %d", dim)
	}

	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "failed to initialize ONNX environment")
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, 224, 224))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrapf(err, "failed to open ONNX session for %s", modelPath)
	}

	return &ONNX{
		name:         name,
		dim:          dim,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (o *ONNX) Name() string { return o.name }

func (o *ONNX) Dim() int { return o.dim }

// Features runs the backbone over each sample in the batch.
func (o *ONNX) Features(batch *tensor.Tensor) (*tensor.Tensor, error) {
	n, err := validateBatch(batch)
	if err != nil {
		return nil, err
	}
	sampleSize := batch.NumElems / n
	if sampleSize != 3*224*224 {
		return nil, errors.Errorf("expected 3x224x224 samples, got %v", batch.Shape)
	}

	out, err := tensor.Zeros([]int{n, o.dim})
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		copy(o.inputTensor.GetData(), batch.Data[i*sampleSize:(i+1)*sampleSize])
		if err := o.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "backbone inference failed for sample %d", i)
		}
		copy(out.Data[i*o.dim:(i+1)*o.dim], o.outputTensor.GetData())
	}

	return out, nil
}

// Close releases the session and its tensors. The runtime environment stays
// initialized for the life of the process.
func (o *ONNX) Close() error {
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
	}
	if o.session != nil {
		o.session.Destroy()
	}
	return nil
}
