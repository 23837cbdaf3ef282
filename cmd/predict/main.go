package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tsawler/go-petal/checkpoints"
	"github.com/tsawler/go-petal/engine"
	"github.com/tsawler/go-petal/extractor"
	"github.com/tsawler/go-petal/labels"
	"github.com/tsawler/go-petal/vision/preprocessing"
)

func main() {
	var (
		imagePath      = flag.String("image", "", "image file to classify")
		checkpointPath = flag.String("checkpoint", "best-model.json", "checkpoint file")
		topK           = flag.Int("k", 5, "number of classes to report")
		namesPath      = flag.String("names", "", "optional JSON file mapping class labels to display names")
		onnxPath       = flag.String("onnx", "", "ONNX model file backing the checkpoint's architecture tag")
		onnxDim        = flag.Int("onnx-dim", 2048, "feature width of the ONNX model")
	)
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}

	cp, err := checkpoints.NewSaver().Load(*checkpointPath)
	if err != nil {
		log.Fatalf("failed to load checkpoint: %v", err)
	}
	if *onnxPath != "" {
		extractor.RegisterONNX(cp.Arch, *onnxPath, *onnxDim)
	}

	model, err := engine.FromCheckpoint(cp, 1)
	if err != nil {
		log.Fatalf("failed to restore model: %v", err)
	}
	defer model.Close()

	var displayNames map[string]string
	if *namesPath != "" {
		displayNames, err = labels.LoadNames(*namesPath)
		if err != nil {
			log.Fatalf("failed to load display names: %v", err)
		}
	}

	img, err := preprocessing.Decode(*imagePath)
	if err != nil {
		log.Fatalf("failed to decode image: %v", err)
	}
	input, err := preprocessing.Eval(img)
	if err != nil {
		log.Fatalf("failed to preprocess image: %v", err)
	}

	k := *topK
	if k > model.Classes().Len() {
		k = model.Classes().Len()
	}
	predictions, err := model.Predict(input, k)
	if err != nil {
		log.Fatalf("prediction failed: %v", err)
	}

	fmt.Printf("%s (arch %s, %d classes)\n", *imagePath, cp.Arch, model.Classes().Len())
	for i, p := range predictions {
		name := p.Label
		if display, ok := displayNames[p.Label]; ok {
			name = display
		}
		fmt.Printf("%2d. %-30s %6.2f%%\n", i+1, name, p.Probability*100)
	}
}
