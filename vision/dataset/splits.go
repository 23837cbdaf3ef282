package dataset

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// Splits holds the training and validation datasets of a standard layout:
// a root directory containing train/ and valid/, each class-per-directory.
// Both splits share the mapping derived from the training split.
type Splits struct {
	Train *ImageFolder
	Valid *ImageFolder
}

// LoadSplits loads train/ and valid/ from root with a shared class mapping.
func LoadSplits(root string) (*Splits, error) {
	train, err := NewImageFolder(filepath.Join(root, "train"))
	if err != nil {
		return nil, errors.WithMessage(err, "loading training split")
	}
	valid, err := NewImageFolderWith(filepath.Join(root, "valid"), train.Classes())
	if err != nil {
		return nil, errors.WithMessage(err, "loading validation split")
	}
	return &Splits{Train: train, Valid: valid}, nil
}
