package labels

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewMapping(t *testing.T) {
	t.Run("ValidBijection", func(t *testing.T) {
		m, err := NewMapping(map[string]int{"rose": 0, "tulip": 1, "daisy": 2})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if m.Len() != 3 {
			t.Errorf("Expected 3 classes, got %d", m.Len())
		}
		if idx, ok := m.Index("tulip"); !ok || idx != 1 {
			t.Errorf("Index(tulip) = %d, %v", idx, ok)
		}
		if name, ok := m.Name(2); !ok || name != "daisy" {
			t.Errorf("Name(2) = %q, %v", name, ok)
		}
	})

	t.Run("DuplicateIndex", func(t *testing.T) {
		if _, err := NewMapping(map[string]int{"rose": 0, "tulip": 0}); err == nil {
			t.Error("Expected error for duplicate index")
		}
	})

	t.Run("NonDenseIndices", func(t *testing.T) {
		if _, err := NewMapping(map[string]int{"rose": 0, "tulip": 5}); err == nil {
			t.Error("Expected error for index out of range")
		}
		if _, err := NewMapping(map[string]int{"rose": -1, "tulip": 0}); err == nil {
			t.Error("Expected error for negative index")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := NewMapping(nil); err == nil {
			t.Error("Expected error for empty mapping")
		}
	})
}

func TestFromNames(t *testing.T) {
	m, err := FromNames([]string{"tulip", "rose"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// Sorted enumeration assigns indices.
	if idx, _ := m.Index("rose"); idx != 0 {
		t.Errorf("Expected rose=0, got %d", idx)
	}
	if idx, _ := m.Index("tulip"); idx != 1 {
		t.Errorf("Expected tulip=1, got %d", idx)
	}

	if _, err := FromNames([]string{"rose", "rose"}); err == nil {
		t.Error("Expected error for duplicate names")
	}
}

func TestMappingInverse(t *testing.T) {
	m, err := FromNames([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, name := range m.Names() {
		idx, ok := m.Index(name)
		if !ok {
			t.Fatalf("Missing index for %q", name)
		}
		back, ok := m.Name(idx)
		if !ok || back != name {
			t.Errorf("Round trip %q -> %d -> %q", name, idx, back)
		}
	}
	if _, ok := m.Name(4); ok {
		t.Error("Name(4) should be out of range")
	}
	if _, ok := m.Name(-1); ok {
		t.Error("Name(-1) should be out of range")
	}
}

func TestMappingJSONRoundTrip(t *testing.T) {
	orig, _ := FromNames([]string{"rose", "tulip"})

	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Mapping
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !orig.Equal(&decoded) {
		t.Errorf("Round trip mismatch: %v vs %v", orig.Names(), decoded.Names())
	}
}

func TestMappingUnmarshalRejectsBrokenBijection(t *testing.T) {
	var m Mapping
	if err := json.Unmarshal([]byte(`{"rose":0,"tulip":2}`), &m); err == nil {
		t.Error("Expected error for non-dense indices")
	}
}

func TestEqual(t *testing.T) {
	a, _ := FromNames([]string{"rose", "tulip"})
	b, _ := FromNames([]string{"tulip", "rose"})
	c, _ := FromNames([]string{"rose", "violet"})

	if !a.Equal(b) {
		t.Error("Expected equal mappings")
	}
	if a.Equal(c) {
		t.Error("Expected unequal mappings")
	}
	if a.Equal(nil) {
		t.Error("Expected not equal to nil")
	}
}

func TestLoadNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.json")
	if err := os.WriteFile(path, []byte(`{"1":"pink primrose","2":"hard-leaved pocket orchid"}`), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	names, err := LoadNames(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if names["1"] != "pink primrose" {
		t.Errorf("Unexpected name: %q", names["1"])
	}

	if _, err := LoadNames(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("not json"), 0644)
	if _, err := LoadNames(bad); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}
