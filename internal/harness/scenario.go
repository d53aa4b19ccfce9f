package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is a named list of query cases over one fixture.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is a users fixture, relative to the scenario file. The
	// built-in sample users are used when empty.
	Fixture string `yaml:"fixture,omitempty"`

	// Settings is CUE settings source applied to option binding.
	Settings string `yaml:"settings,omitempty"`

	// Cases run in order.
	Cases []Case `yaml:"cases"`

	// dir is the directory of the scenario file.
	dir string
}

// Case is one query and its expectations.
type Case struct {
	Name   string `yaml:"name"`
	Query  string `yaml:"query"`
	Expect Expect `yaml:"expect"`
	// Golden snapshots the result envelope.
	Golden bool `yaml:"golden,omitempty"`
}

// Expect lists what a case must produce. Unset fields are not checked.
type Expect struct {
	// IDs are the user ids of the result page, in order.
	IDs []int32 `yaml:"ids,omitempty"`
	// Count is the expected @count.
	Count *int64 `yaml:"count,omitempty"`
	// Error is the option error code the query must be rejected with.
	Error string `yaml:"error,omitempty"`
	// Nil names properties that must be nil on every item.
	Nil []string `yaml:"nil,omitempty"`
	// NotNil names properties that must be set on every item.
	NotNil []string `yaml:"not_nil,omitempty"`
	// Same names an earlier case whose envelope this case must equal.
	Same string `yaml:"same,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "expects:" vs "expect:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.dir = filepath.Dir(path)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("scenario %q is defined in both %s and %s", s.Name, prev, p)
		}
		names[s.Name] = p
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Cases) == 0 {
		return errors.New("at least one case is required")
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("case %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("case %q is defined twice", c.Name)
		}
		if c.Expect.Same != "" && !seen[c.Expect.Same] {
			return fmt.Errorf("case %q: same refers to %q, which is not an earlier case", c.Name, c.Expect.Same)
		}
		if c.Expect.Error != "" && (c.Expect.IDs != nil || c.Expect.Count != nil || c.Golden) {
			return fmt.Errorf("case %q: a rejected query has no result to check", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
