// Package labels maintains the bijection between class names (dataset
// directory names) and the dense integer indices used by the model. The
// mapping is fixed when the training set is scanned and travels with every
// checkpoint, since indices are meaningless without it.
package labels

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Mapping is an invariant-checked bijection between class names and dense
// indices 0..n-1. The forward and inverse maps are built together so lookups
// in either direction are O(1).
type Mapping struct {
	toIndex map[string]int
	toName  []string
}

// NewMapping builds a mapping from a class-name -> index table. Construction
// fails unless the table is a true bijection onto 0..n-1.
func NewMapping(classToIdx map[string]int) (*Mapping, error) {
	if len(classToIdx) == 0 {
		return nil, errors.New("labels: empty class mapping")
	}
	toName := make([]string, len(classToIdx))
	seen := make([]bool, len(classToIdx))
	for name, idx := range classToIdx {
		if idx < 0 || idx >= len(classToIdx) {
			return nil, errors.Errorf("labels: class %q has index %d outside [0, %d)", name, idx, len(classToIdx))
		}
		if seen[idx] {
			return nil, errors.Errorf("labels: duplicate index %d (class %q)", idx, name)
		}
		seen[idx] = true
		toName[idx] = name
	}
	toIndex := make(map[string]int, len(classToIdx))
	for name, idx := range classToIdx {
		toIndex[name] = idx
	}
	return &Mapping{toIndex: toIndex, toName: toName}, nil
}

// FromNames builds a mapping by enumerating the given class names in sorted
// order, matching how a class-per-directory dataset assigns indices.
func FromNames(names []string) (*Mapping, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	classToIdx := make(map[string]int, len(sorted))
	for i, name := range sorted {
		if _, ok := classToIdx[name]; ok {
			return nil, errors.Errorf("labels: duplicate class name %q", name)
		}
		classToIdx[name] = i
	}
	return NewMapping(classToIdx)
}

// Len returns the number of classes.
func (m *Mapping) Len() int {
	return len(m.toName)
}

// Index returns the dense index for a class name.
func (m *Mapping) Index(name string) (int, bool) {
	idx, ok := m.toIndex[name]
	return idx, ok
}

// Name returns the class name for a dense index.
func (m *Mapping) Name(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.toName) {
		return "", false
	}
	return m.toName[idx], true
}

// Names returns the class names ordered by index.
func (m *Mapping) Names() []string {
	out := make([]string, len(m.toName))
	copy(out, m.toName)
	return out
}

// Equal reports whether both mappings contain identical name/index pairs.
func (m *Mapping) Equal(o *Mapping) bool {
	if o == nil || len(m.toName) != len(o.toName) {
		return false
	}
	for i, name := range m.toName {
		if o.toName[i] != name {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the mapping as a {"name": index} object.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toIndex)
}

// UnmarshalJSON decodes and re-validates the bijection.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var classToIdx map[string]int
	if err := json.Unmarshal(data, &classToIdx); err != nil {
		return errors.Wrap(err, "labels: decoding mapping")
	}
	decoded, err := NewMapping(classToIdx)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Names file: an external JSON object mapping class name -> human-readable
// species name. Consumed only by the presentation layer.

// LoadNames reads a label-name JSON file.
func LoadNames(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "labels: reading names file %s", path)
	}
	var names map[string]string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, errors.Wrapf(err, "labels: parsing names file %s", path)
	}
	return names, nil
}
