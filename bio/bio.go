// Package bio provides sequence parsing and discrete state alphabets.
package bio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrFasta is returned for malformed FASTA input.
var ErrFasta = errors.New("malformed fasta")

// Sequence is a named sequence of state characters.
type Sequence struct {
	Name     string
	Sequence string
}

// Sequences stores multiple sequences. E.g. a sequence alignment.
type Sequences []Sequence

// ParseFasta parses FASTA sequences from a reader. Sequence
// characters are converted to upper case, spaces are removed. Names
// should be unique.
func ParseFasta(rd io.Reader) (Sequences, error) {
	var seqs Sequences
	var body []*strings.Builder
	names := make(map[string]int)

	scanner := bufio.NewScanner(rd)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line[0] == '>':
			name := strings.TrimSpace(line[1:])
			if name == "" {
				return nil, fmt.Errorf("%w: empty name at line %d", ErrFasta, lineNo)
			}
			if prev, ok := names[name]; ok {
				return nil, fmt.Errorf("%w: duplicate name %s at lines %d and %d", ErrFasta, name, prev, lineNo)
			}
			names[name] = lineNo
			seqs = append(seqs, Sequence{Name: name})
			body = append(body, &strings.Builder{})
		case len(seqs) == 0:
			return nil, fmt.Errorf("%w: sequence without a name at line %d", ErrFasta, lineNo)
		default:
			b := body[len(body)-1]
			for _, f := range strings.Fields(line) {
				b.WriteString(strings.ToUpper(f))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for i := range seqs {
		seqs[i].Sequence = body[i].String()
	}
	return seqs, nil
}

// Length returns the alignment length.
func (seqs Sequences) Length() int {
	if len(seqs) == 0 {
		return 0
	}
	return len(seqs[0].Sequence)
}
