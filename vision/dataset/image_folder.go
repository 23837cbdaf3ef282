// Package dataset loads class-per-directory image datasets. Sorted
// subdirectory enumeration defines the class-index mapping, so the same tree
// always produces the same mapping.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/labels"
)

// ErrLayout reports a malformed dataset directory structure.
var ErrLayout = errors.New("malformed dataset layout")

var defaultExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolder is a dataset rooted at a directory with one subdirectory per
// class; the subdirectory name is the class's string label.
type ImageFolder struct {
	imagePaths []string
	labels     []int
	classes    *labels.Mapping
}

// NewImageFolder scans root and builds the class mapping from its sorted
// subdirectory names.
func NewImageFolder(root string) (*ImageFolder, error) {
	names, err := classDirs(root)
	if err != nil {
		return nil, err
	}
	mapping, err := labels.FromNames(names)
	if err != nil {
		return nil, err
	}
	return scan(root, mapping)
}

// NewImageFolderWith scans root against a fixed mapping, typically the one
// built from the training split. A class directory absent from the mapping
// is a layout error, since its samples could not be labeled consistently.
func NewImageFolderWith(root string, mapping *labels.Mapping) (*ImageFolder, error) {
	names, err := classDirs(root)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, ok := mapping.Index(name); !ok {
			return nil, errors.WithMessagef(ErrLayout, "class directory %q in %s is not in the training mapping", name, root)
		}
	}
	return scan(root, mapping)
}

func classDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset root %s", root)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.WithMessagef(ErrLayout, "no class directories under %s", root)
	}
	return names, nil
}

func scan(root string, mapping *labels.Mapping) (*ImageFolder, error) {
	d := &ImageFolder{classes: mapping}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset root %s", root)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		classIdx, ok := mapping.Index(entry.Name())
		if !ok {
			continue
		}
		classPath := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(classPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read class directory %s", classPath)
		}
		for _, file := range files {
			if file.IsDir() || !hasImageExtension(file.Name()) {
				continue
			}
			d.imagePaths = append(d.imagePaths, filepath.Join(classPath, file.Name()))
			d.labels = append(d.labels, classIdx)
		}
	}

	if len(d.imagePaths) == 0 {
		return nil, errors.WithMessagef(ErrLayout, "no images found under %s", root)
	}
	return d, nil
}

func hasImageExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range defaultExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Len returns the number of samples in the dataset.
func (d *ImageFolder) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label index at the given position.
func (d *ImageFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, errors.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Classes returns the class-index mapping fixed at load time.
func (d *ImageFolder) Classes() *labels.Mapping {
	return d.classes
}

// ClassDistribution returns the number of samples per class name.
func (d *ImageFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		name, _ := d.classes.Name(label)
		dist[name]++
	}
	return dist
}

// String returns a printable description of the dataset.
func (d *ImageFolder) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolder: %d samples, %d classes\n", len(d.imagePaths), d.classes.Len()))
	dist := d.ClassDistribution()
	for _, name := range d.classes.Names() {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", name, dist[name]))
	}
	return sb.String()
}
