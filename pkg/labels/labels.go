// Package labels maps annotation label symbols to contiguous class ids.
package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Unlabeled is the symbol of the reserved background class.
const Unlabeled = "unlabeled"

// Filename is the name of the label map side file.
const Filename = "labelmap.json"

// Map is a bijection between label symbols and class ids.
type Map map[string]int

// ToMap creates a Map from a labelset. Labels are sorted so the mapping does
// not depend on the order they were listed in. When mapUnlabeled is true the
// background class gets id 0 and labels start at 1.
func ToMap(labelset []string, mapUnlabeled bool) Map {
	sorted := make([]string, 0, len(labelset))
	seen := make(map[string]bool, len(labelset))
	for _, l := range labelset {
		if l == Unlabeled || seen[l] {
			continue
		}
		seen[l] = true
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	if mapUnlabeled {
		sorted = append([]string{Unlabeled}, sorted...)
	}

	m := make(Map, len(sorted))
	for i, l := range sorted {
		m[l] = i
	}
	return m
}

// ParseLabelset converts a labelset option into a list of labels.
// "iabcdef" gives single characters, "a,b,call" splits on commas.
func ParseLabelset(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	if strings.Contains(s, ",") {
		for _, l := range strings.Split(s, ",") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	} else {
		for _, r := range s {
			out = append(out, string(r))
		}
	}

	sort.Strings(out)
	return out
}

// Load reads a label map from a JSON file and validates it.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label map: %w", err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse label map %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("label map %s: %w", path, err)
	}
	return m, nil
}

// Save writes the label map as JSON.
func (m Map) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that ids are unique and contiguous from 0.
func (m Map) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("empty label map")
	}
	seen := make([]bool, len(m))
	for l, id := range m {
		if id < 0 || id >= len(m) {
			return fmt.Errorf("label %q has id %d outside range [0, %d)", l, id, len(m))
		}
		if seen[id] {
			return fmt.Errorf("id %d is mapped more than once", id)
		}
		seen[id] = true
	}
	return nil
}

// NumClasses returns the number of classes in the map.
func (m Map) NumClasses() int {
	return len(m)
}

// UnlabeledID returns the id of the background class, if mapped.
func (m Map) UnlabeledID() (int, bool) {
	id, ok := m[Unlabeled]
	return id, ok
}

// Inverse returns the id to symbol mapping.
func (m Map) Inverse() map[int]string {
	inv := make(map[int]string, len(m))
	for l, id := range m {
		inv[id] = l
	}
	return inv
}

// Symbol returns the label for a class id.
func (m Map) Symbol(id int) (string, error) {
	for l, i := range m {
		if i == id {
			return l, nil
		}
	}
	return "", fmt.Errorf("class id %d outside label map range [0, %d)", id, len(m))
}

// Labels returns the mapped symbols ordered by class id.
func (m Map) Labels() []string {
	out := make([]string, len(m))
	for l, id := range m {
		out[id] = l
	}
	return out
}
