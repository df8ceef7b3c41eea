// Package bio provides sequence alignment input and site pattern
// compression.
package bio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gonum/floats"

	"bitbucket.org/Davydov/golk/plh"
)

// Sequence is a type which is intended for storing nucleotide or
// protein sequence with it's name.
type Sequence struct {
	Name     string
	Sequence string
}

// Sequences stores multiple sequences. E.g. a sequence alignment.
type Sequences []Sequence

// ParseFasta parses FASTA sequences from a reader.
func ParseFasta(rd io.Reader) (seqs Sequences, err error) {
	seqs = make(Sequences, 0, 10)
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			seqs = append(seqs, Sequence{Name: strings.TrimSpace(line[1:])})
			continue
		}
		if len(seqs) == 0 {
			return nil, errors.New("sequence w/o prefix")
		}
		line = strings.ToUpper(strings.Replace(line, " ", "", -1))
		seqs[len(seqs)-1].Sequence += line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return seqs, nil
}

// Length returns the alignment length or an error if sequences have
// different lengths.
func (seqs Sequences) Length() (int, error) {
	if len(seqs) == 0 {
		return 0, errors.New("empty alignment")
	}
	l := len(seqs[0].Sequence)
	for _, s := range seqs[1:] {
		if len(s.Sequence) != l {
			return 0, fmt.Errorf("sequence %s length %d differs from %d", s.Name, len(s.Sequence), l)
		}
	}
	return l, nil
}

// Index returns a map from sequence name to its position.
func (seqs Sequences) Index() map[string]int {
	res := make(map[string]int, len(seqs))
	for i, s := range seqs {
		res[s.Name] = i
	}
	return res
}

// Compress removes duplicate alignment columns. It returns the
// alignment of unique site patterns in the order of first occurrence
// and the number of times each pattern occurs.
func (seqs Sequences) Compress() (Sequences, []uint32, error) {
	l, err := seqs.Length()
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]int, l)
	columns := make([]int, 0, l)
	weights := make([]uint32, 0, l)
	col := make([]byte, len(seqs))
	for i := 0; i < l; i++ {
		for j, s := range seqs {
			col[j] = s.Sequence[i]
		}
		if k, ok := seen[string(col)]; ok {
			weights[k]++
			continue
		}
		seen[string(col)] = len(columns)
		columns = append(columns, i)
		weights = append(weights, 1)
	}

	res := make(Sequences, len(seqs))
	buf := make([]byte, len(columns))
	for j, s := range seqs {
		for k, i := range columns {
			buf[k] = s.Sequence[i]
		}
		res[j] = Sequence{Name: s.Name, Sequence: string(buf)}
	}
	return res, weights, nil
}

// EmpiricalFreqs computes state frequencies. An ambiguous character
// contributes equally to all its states. Weights are pattern weights
// and can be nil.
func (seqs Sequences) EmpiricalFreqs(m *plh.Map, states int, weights []uint32) ([]float64, error) {
	freqs := make([]float64, states)
	for _, s := range seqs {
		for i := 0; i < len(s.Sequence); i++ {
			mask := m[s.Sequence[i]]
			if mask == 0 {
				return nil, fmt.Errorf("illegal character %q in %s", s.Sequence[i], s.Name)
			}
			w := 1.0
			if weights != nil {
				w = float64(weights[i])
			}
			w /= float64(mask.Count())
			for k := 0; k < states; k++ {
				if mask.Has(k) {
					freqs[k] += w
				}
			}
		}
	}
	sum := floats.Sum(freqs)
	if sum == 0 {
		return nil, errors.New("no characters to compute frequencies")
	}
	floats.Scale(1/sum, freqs)
	return freqs, nil
}

// Wrap inputs a string and wraps it so string length is n characters
// or less.
func Wrap(seq string, n int) (s string) {
	for i := 0; i < len(seq); i += n {
		end := i + n
		if end > len(seq) {
			end = len(seq)
		}
		s += seq[i:end] + "\n"
	}
	return
}

// String returns a sequence in FASTA format.
func (seq Sequence) String() (s string) {
	s = ">" + seq.Name + "\n" + Wrap(seq.Sequence, 80)
	return
}

// String returns sequences in FASTA format.
func (seqs Sequences) String() (s string) {
	for _, seq := range seqs {
		s += seq.String()
	}
	return strings.TrimSuffix(s, "\n")
}
