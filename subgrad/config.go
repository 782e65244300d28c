package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfig is returned for an invalid analysis file.
var ErrConfig = errors.New("invalid analysis")

// Analysis is the YAML analysis description.
type Analysis struct {
	// States is the state alphabet, nucleotides by default.
	States string `yaml:"states"`
	// Tree is the default Newick tree file for the partitions.
	Tree string `yaml:"tree"`
	// Partitions are the alignments, one likelihood per partition.
	Partitions []PartitionConfig `yaml:"partitions"`
	// Models are the substitution models.
	Models []ModelConfig `yaml:"models"`
	// Priors are added to the gradients of their parameters.
	Priors []PriorConfig `yaml:"priors"`
	// Gradients lists the parameters to differentiate, all of them
	// if empty.
	Gradients []string `yaml:"gradients"`

	// dir is the directory relative file names are resolved against.
	dir string
}

// PartitionConfig is a single alignment with its tree and branch
// model.
type PartitionConfig struct {
	Name      string `yaml:"name"`
	Alignment string `yaml:"alignment"`
	// Tree overrides the analysis tree.
	Tree string `yaml:"tree"`
	// Model is the model of every branch.
	Model string `yaml:"model"`
	// Classes maps the Newick branch classes (#k) to the models.
	Classes map[int]string `yaml:"classes"`
}

// ModelConfig is a substitution model.
type ModelConfig struct {
	Name string `yaml:"name"`
	// Type is either glm or complex.
	Type string `yaml:"type"`
	// Frequencies is either a list of values, equal or empirical.
	Frequencies yaml.Node `yaml:"frequencies"`
	Normalize   bool      `yaml:"normalize"`
	// Rates are the complex model off-diagonal rates.
	Rates []float64 `yaml:"rates"`
	// RandomEffects are the log-rate random effects of the glm.
	RandomEffects []float64 `yaml:"randomEffects"`
	// Coefficients and Design are the glm fixed effects.
	Coefficients []float64   `yaml:"coefficients"`
	Design       [][]float64 `yaml:"design"`
}

// PriorConfig is a prior on a parameter.
type PriorConfig struct {
	Name string `yaml:"name"`
	// Type is either normal or gamma.
	Type      string  `yaml:"type"`
	Parameter string  `yaml:"parameter"`
	Mean      float64 `yaml:"mean"`
	SD        float64 `yaml:"sd"`
	Shape     float64 `yaml:"shape"`
	Scale     float64 `yaml:"scale"`
}

// LoadAnalysis reads an analysis file.
func LoadAnalysis(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis: %w", err)
	}
	a, err := ParseAnalysis(data)
	if err != nil {
		return nil, err
	}
	a.dir = filepath.Dir(path)
	return a, nil
}

// ParseAnalysis parses and validates an analysis document.
func ParseAnalysis(data []byte) (*Analysis, error) {
	a := &Analysis{States: "ACGT"}
	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Analysis) validate() error {
	if len(a.Partitions) == 0 {
		return fmt.Errorf("%w: no partitions", ErrConfig)
	}
	models := make(map[string]bool, len(a.Models))
	for _, m := range a.Models {
		if m.Name == "" {
			return fmt.Errorf("%w: model without a name", ErrConfig)
		}
		if models[m.Name] {
			return fmt.Errorf("%w: duplicate model %s", ErrConfig, m.Name)
		}
		switch m.Type {
		case "glm", "complex":
		default:
			return fmt.Errorf("%w: model %s has unknown type %q", ErrConfig, m.Name, m.Type)
		}
		models[m.Name] = true
	}
	for i, p := range a.Partitions {
		if p.Alignment == "" {
			return fmt.Errorf("%w: partition %d has no alignment", ErrConfig, i)
		}
		if p.Tree == "" && a.Tree == "" {
			return fmt.Errorf("%w: partition %d has no tree", ErrConfig, i)
		}
		if (p.Model == "") == (len(p.Classes) == 0) {
			return fmt.Errorf("%w: partition %d needs either a model or classes", ErrConfig, i)
		}
		if p.Model != "" && !models[p.Model] {
			return fmt.Errorf("%w: partition %d uses unknown model %s", ErrConfig, i, p.Model)
		}
		for class, name := range p.Classes {
			if !models[name] {
				return fmt.Errorf("%w: class %d of partition %d uses unknown model %s", ErrConfig, class, i, name)
			}
		}
	}
	for _, p := range a.Priors {
		switch p.Type {
		case "normal", "gamma":
		default:
			return fmt.Errorf("%w: prior %s has unknown type %q", ErrConfig, p.Name, p.Type)
		}
		if p.Parameter == "" {
			return fmt.Errorf("%w: prior %s has no parameter", ErrConfig, p.Name)
		}
	}
	return nil
}

// partitionName returns the partition name or its index.
func (a *Analysis) partitionName(i int) string {
	if n := a.Partitions[i].Name; n != "" {
		return n
	}
	return fmt.Sprintf("partition%d", i+1)
}

// path resolves a file name relative to the analysis file.
func (a *Analysis) path(name string) string {
	if filepath.IsAbs(name) || a.dir == "" {
		return name
	}
	return filepath.Join(a.dir, name)
}
