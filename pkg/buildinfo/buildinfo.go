// Package buildinfo records the resolved build variables (install prefixes
// and core paths) as a JSON snapshot for downstream tooling.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// DefaultFile is the well-known snapshot location relative to the source
// tree root.
const DefaultFile = ".build_vars.json"

// Info accumulates build variables over the life of a build invocation.
type Info struct {
	vars map[string]string
}

func New() *Info {
	return &Info{vars: make(map[string]string)}
}

// Update records or replaces a variable.
func (i *Info) Update(key, value string) {
	i.vars[key] = value
}

func (i *Info) Get(key string) string {
	return i.vars[key]
}

// Keys returns the recorded variable names in sorted order.
func (i *Info) Keys() []string {
	keys := make([]string, 0, len(i.vars))
	for k := range i.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the snapshot as indented JSON.
func (i *Info) Save(path string) error {
	data, err := json.MarshalIndent(i.vars, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Load reads a snapshot written by Save.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	info := New()
	if err := json.Unmarshal(data, &info.vars); err != nil {
		return nil, fmt.Errorf("malformed build vars file %s: %w", path, err)
	}

	return info, nil
}
