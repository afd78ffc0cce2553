package fold

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalEnergyHalvesStacks(t *testing.T) {
	segs := []Segment{
		{Descriptor: "STACK:AT/TA", Energy: -2.0},
		{Descriptor: "HAIRPIN:4", Energy: 3.0},
		{Descriptor: "stack-lowercase", Energy: 1.0},
	}
	assert.InDelta(t, -1.0+3.0+1.0, TotalEnergy(segs), 1e-12)
	assert.Zero(t, TotalEnergy(nil))
}

func TestTotalEnergyPropagatesInfinity(t *testing.T) {
	segs := []Segment{{Descriptor: "BULGE", Energy: math.Inf(1)}}
	assert.False(t, IsFinite(TotalEnergy(segs)))
	assert.True(t, IsFinite(-3.2))
	assert.False(t, IsFinite(math.NaN()))
}

func TestNearestNeighborEmitsStacksAndInit(t *testing.T) {
	segs, err := NearestNeighbor{}.Fold("ATGC", 37)
	require.NoError(t, err)
	require.Len(t, segs, 5)

	assert.Equal(t, "INIT:terminal-AT", segs[0].Descriptor)
	assert.Equal(t, "STACK:AT/TA", segs[1].Descriptor)
	assert.Equal(t, "STACK:TG/AC", segs[2].Descriptor)
	assert.Equal(t, "STACK:GC/CG", segs[3].Descriptor)
	assert.Equal(t, "INIT:terminal-GC", segs[4].Descriptor)

	// AT/TA at 37C: -7.2 - 310.15*-20.4/1000
	assert.InDelta(t, -0.87294, segs[1].Energy, 1e-5)
	// TG reads as CA/GT from the other strand.
	assert.InDelta(t, stackParams["CA"].freeEnergy(37), segs[2].Energy, 1e-12)
}

func TestNearestNeighborTemperatureRaisesEnergy(t *testing.T) {
	cold, err := NearestNeighbor{}.Fold("GGCCAATT", 25)
	require.NoError(t, err)
	warm, err := NearestNeighbor{}.Fold("GGCCAATT", 60)
	require.NoError(t, err)
	assert.Greater(t, TotalEnergy(warm), TotalEnergy(cold))
}

func TestNearestNeighborReadsRNA(t *testing.T) {
	dna, err := NearestNeighbor{}.Fold("ATTA", 25)
	require.NoError(t, err)
	rna, err := NearestNeighbor{}.Fold("auua", 25)
	require.NoError(t, err)
	assert.Equal(t, dna, rna)
}

func TestNearestNeighborRejectsBadInput(t *testing.T) {
	_, err := NearestNeighbor{}.Fold("", 25)
	assert.ErrorIs(t, err, ErrEmptySequence)
	_, err = NearestNeighbor{}.Fold("A", 25)
	assert.ErrorIs(t, err, ErrSequenceTooShort)
	_, err = NearestNeighbor{}.Fold("ATXG", 25)
	assert.ErrorIs(t, err, ErrInvalidBase)
}

type fakeRunner struct {
	name   string
	args   []string
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	return []byte(f.stdout), []byte("boom"), f.err
}

func TestExecEngineParsesOutput(t *testing.T) {
	runner := &fakeRunner{stdout: "-1.5\tSTACK:AT/TA\n\n2.25\tHAIRPIN:3\n"}
	eng := ExecEngine{Command: []string{"seqfold-cli", "--segments"}, Runner: runner, Timeout: time.Second}

	segs, err := eng.Fold("ATGC", 37.5)
	require.NoError(t, err)
	assert.Equal(t, "seqfold-cli", runner.name)
	assert.Equal(t, []string{"--segments", "ATGC", "37.5"}, runner.args)
	assert.Equal(t, []Segment{
		{Descriptor: "STACK:AT/TA", Energy: -1.5},
		{Descriptor: "HAIRPIN:3", Energy: 2.25},
	}, segs)
}

func TestExecEngineErrors(t *testing.T) {
	_, err := ExecEngine{}.Fold("ATGC", 25)
	assert.ErrorIs(t, err, ErrNoCommand)

	failing := &fakeRunner{err: errors.New("exit status 2")}
	_, err = ExecEngine{Command: []string{"x"}, Runner: failing}.Fold("ATGC", 25)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	garbled := &fakeRunner{stdout: "not-a-number\tSTACK\n"}
	_, err = ExecEngine{Command: []string{"x"}, Runner: garbled}.Fold("ATGC", 25)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestSelect(t *testing.T) {
	eng, err := Select("", nil, 0)
	require.NoError(t, err)
	assert.IsType(t, NearestNeighbor{}, eng)

	eng, err = Select("exec", []string{"fold.sh"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ExecEngine{Command: []string{"fold.sh"}, Timeout: time.Second}, eng)

	_, err = Select("exec", nil, 0)
	assert.ErrorIs(t, err, ErrNoCommand)
	_, err = Select("zuker", nil, 0)
	assert.Error(t, err)
}

func TestFuncAdapter(t *testing.T) {
	var eng Engine = Func(func(seq string, temp float64) ([]Segment, error) {
		return []Segment{{Descriptor: seq, Energy: temp}}, nil
	})
	segs, err := eng.Fold("A", 2)
	require.NoError(t, err)
	assert.Equal(t, []Segment{{Descriptor: "A", Energy: 2}}, segs)
}
