package fold

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSequenceTooShort = errors.New("fold: sequence shorter than one stack")
	ErrInvalidBase      = errors.New("fold: invalid base")
)

const kelvinOffset = 273.15

// thermo holds enthalpy (kcal/mol) and entropy (cal/K/mol).
type thermo struct {
	dH float64
	dS float64
}

func (t thermo) freeEnergy(celsius float64) float64 {
	return t.dH - (celsius+kelvinOffset)*t.dS/1000.0
}

// Unified nearest-neighbor stack parameters (SantaLucia 1998), keyed by the
// top strand dinucleotide read 5'->3'.
var stackParams = map[string]thermo{
	"AA": {-7.9, -22.2},
	"AT": {-7.2, -20.4},
	"TA": {-7.2, -21.3},
	"CA": {-8.5, -22.7},
	"GT": {-8.4, -22.4},
	"CT": {-7.8, -21.0},
	"GA": {-8.2, -22.2},
	"CG": {-10.6, -27.2},
	"GC": {-9.8, -24.4},
	"GG": {-8.0, -19.9},
}

var (
	initTerminalGC = thermo{0.1, -2.8}
	initTerminalAT = thermo{2.3, 4.1}
)

var complement = map[byte]byte{'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G'}

// NearestNeighbor folds a sequence against its perfect complement and
// reports one STACK segment per adjacent base pair plus the two terminal
// initiation penalties. RNA input is read with U as T.
type NearestNeighbor struct{}

func (NearestNeighbor) Fold(sequence string, temperature float64) ([]Segment, error) {
	seq := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(sequence)), "U", "T")
	if seq == "" {
		return nil, ErrEmptySequence
	}
	for i := 0; i < len(seq); i++ {
		if _, ok := complement[seq[i]]; !ok {
			return nil, fmt.Errorf("%w: %q at %d", ErrInvalidBase, seq[i], i)
		}
	}
	if len(seq) < 2 {
		return nil, ErrSequenceTooShort
	}

	out := make([]Segment, 0, len(seq)+1)
	out = append(out, initSegment(seq[0], temperature))
	for i := 0; i+1 < len(seq); i++ {
		pair := seq[i : i+2]
		p := stackThermo(pair)
		out = append(out, Segment{
			Descriptor: fmt.Sprintf("%s:%s/%c%c", StackMarker, pair, complement[pair[0]], complement[pair[1]]),
			Energy:     p.freeEnergy(temperature),
		})
	}
	out = append(out, initSegment(seq[len(seq)-1], temperature))
	return out, nil
}

func stackThermo(pair string) thermo {
	if p, ok := stackParams[pair]; ok {
		return p
	}
	// Same stack read from the complementary strand.
	return stackParams[string([]byte{complement[pair[1]], complement[pair[0]]})]
}

func initSegment(base byte, temperature float64) Segment {
	if base == 'G' || base == 'C' {
		return Segment{Descriptor: "INIT:terminal-GC", Energy: initTerminalGC.freeEnergy(temperature)}
	}
	return Segment{Descriptor: "INIT:terminal-AT", Energy: initTerminalAT.freeEnergy(temperature)}
}
