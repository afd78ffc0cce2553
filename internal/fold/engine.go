package fold

import (
	"errors"
	"math"
	"strings"
)

// StackMarker prefixes descriptors of stacking segments.
const StackMarker = "STACK"

var ErrEmptySequence = errors.New("fold: empty sequence")

// Segment is one structural contribution returned by an engine.
type Segment struct {
	Descriptor string
	Energy     float64
}

// Engine computes fold segments for a sequence at a temperature in Celsius.
type Engine interface {
	Fold(sequence string, temperature float64) ([]Segment, error)
}

// Func adapts a plain function to Engine.
type Func func(sequence string, temperature float64) ([]Segment, error)

func (f Func) Fold(sequence string, temperature float64) ([]Segment, error) {
	return f(sequence, temperature)
}

// Weight returns the contribution factor for one segment.
func Weight(s Segment) float64 {
	if strings.HasPrefix(s.Descriptor, StackMarker) {
		return 0.5
	}
	return 1.0
}

// TotalEnergy sums weighted segment energies. The result may be non-finite;
// callers decide how to report that.
func TotalEnergy(segments []Segment) float64 {
	total := 0.0
	for _, s := range segments {
		total += s.Energy * Weight(s)
	}
	return total
}

// IsFinite reports whether v is neither infinite nor NaN.
func IsFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
