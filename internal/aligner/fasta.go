package aligner

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/koeng101/poly"
)

// ErrEmptyFASTA reports a query file without any usable sequence.
var ErrEmptyFASTA = errors.New("aligner: fasta contains no sequences")

// FASTASummary describes a protein query file.
type FASTASummary struct {
	Sequences int
	Residues  int
}

// InspectFASTA streams a protein FASTA file and counts its records before it is
// handed to the aligner.
func InspectFASTA(path string) (FASTASummary, error) {
	if _, err := os.Stat(path); err != nil {
		return FASTASummary{}, fmt.Errorf("aligner: fasta: %w", err)
	}
	records := make(chan poly.Fasta, 100)
	go poly.ReadFASTAConcurrent(path, records)

	var s FASTASummary
	for record := range records {
		seq := strings.TrimRight(strings.ReplaceAll(record.Sequence, " ", ""), "*")
		if seq == "" {
			continue
		}
		s.Sequences++
		s.Residues += len(seq)
	}
	if s.Sequences == 0 {
		return s, fmt.Errorf("%w: %s", ErrEmptyFASTA, path)
	}
	return s, nil
}
