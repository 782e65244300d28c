package bio

import (
	"errors"
	"fmt"
	"strings"
)

// NoState marks a gap or an unknown character.
const NoState = -1

// DataType is an alphabet of discrete states.
type DataType struct {
	// Name is the data type name.
	Name string
	// States lists state characters, the index is the state number.
	States string
}

// Nucleotides is the nucleotide alphabet.
var Nucleotides = &DataType{Name: "nucleotide", States: "ACGT"}

// NewDataType creates a new data type from state characters.
func NewDataType(name, states string) (*DataType, error) {
	states = strings.ToUpper(states)
	if len(states) < 2 {
		return nil, fmt.Errorf("data type %s needs at least two states", name)
	}
	for i := 0; i < len(states); i++ {
		if strings.IndexByte(states[i+1:], states[i]) >= 0 {
			return nil, fmt.Errorf("duplicate state %q in data type %s", states[i], name)
		}
	}
	return &DataType{Name: name, States: states}, nil
}

// StateCount returns number of states.
func (dt *DataType) StateCount() int {
	return len(dt.States)
}

// State returns the state number of a character or NoState.
func (dt *DataType) State(c byte) int {
	if c == 'U' && dt.States == Nucleotides.States {
		c = 'T'
	}
	i := strings.IndexByte(dt.States, c)
	if i < 0 {
		return NoState
	}
	return i
}

// Patterns stores unique alignment columns and their counts. Rows
// are in the taxa order.
type Patterns struct {
	DataType *DataType
	Taxa     []string
	// Patterns[site][taxon] is a state or NoState.
	Patterns [][]int
	Weights  []float64
}

// NewPatterns compresses an alignment into site patterns.
func NewPatterns(seqs Sequences, dt *DataType) (*Patterns, error) {
	if len(seqs) == 0 {
		return nil, errors.New("empty alignment")
	}
	n := seqs.Length()
	p := &Patterns{
		DataType: dt,
		Taxa:     make([]string, len(seqs)),
	}
	for i, s := range seqs {
		if len(s.Sequence) != n {
			return nil, fmt.Errorf("sequence %s has length %d, expected %d", s.Name, len(s.Sequence), n)
		}
		p.Taxa[i] = s.Name
	}

	index := make(map[string]int)
	col := make([]byte, len(seqs))
	for site := 0; site < n; site++ {
		for i, s := range seqs {
			col[i] = s.Sequence[site]
		}
		key := string(col)
		if j, ok := index[key]; ok {
			p.Weights[j]++
			continue
		}
		pat := make([]int, len(seqs))
		for i, c := range col {
			pat[i] = dt.State(c)
		}
		index[key] = len(p.Patterns)
		p.Patterns = append(p.Patterns, pat)
		p.Weights = append(p.Weights, 1)
	}
	return p, nil
}

// NPatterns returns the number of unique patterns.
func (p *Patterns) NPatterns() int {
	return len(p.Patterns)
}

// TaxonIndex returns the row of a taxon or -1.
func (p *Patterns) TaxonIndex(name string) int {
	for i, t := range p.Taxa {
		if t == name {
			return i
		}
	}
	return -1
}

// StateFrequencies returns empirical state frequencies, unknown
// states are ignored.
func (p *Patterns) StateFrequencies() []float64 {
	f := make([]float64, p.DataType.StateCount())
	total := 0.0
	for i, pat := range p.Patterns {
		for _, s := range pat {
			if s == NoState {
				continue
			}
			f[s] += p.Weights[i]
			total += p.Weights[i]
		}
	}
	for i := range f {
		if total == 0 {
			f[i] = 1 / float64(len(f))
		} else {
			f[i] /= total
		}
	}
	return f
}
