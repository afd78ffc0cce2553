package fold

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoCommand       = errors.New("fold: engine command not configured")
	ErrMalformedOutput = errors.New("fold: malformed engine output")
)

// CommandRunner abstracts running the external engine program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecEngine delegates folding to an external program invoked as
// `command... <sequence> <temperature>`. The program prints one segment per
// line as `<energy>\t<descriptor>`.
type ExecEngine struct {
	Command []string
	Timeout time.Duration
	Runner  CommandRunner
}

func (e ExecEngine) Fold(sequence string, temperature float64) ([]Segment, error) {
	if len(e.Command) == 0 || strings.TrimSpace(e.Command[0]) == "" {
		return nil, ErrNoCommand
	}
	if sequence == "" {
		return nil, ErrEmptySequence
	}
	runner := e.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	ctx := context.Background()
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, e.Command[1:]...), sequence, strconv.FormatFloat(temperature, 'f', -1, 64))
	stdout, stderr, err := runner.Run(ctx, e.Command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("fold: run %s: %w (stderr=%q)", e.Command[0], err, strings.TrimSpace(string(stderr)))
	}
	return ParseSegments(stdout)
}

// ParseSegments reads `<energy>\t<descriptor>` lines. Blank lines are skipped.
func ParseSegments(out []byte) ([]Segment, error) {
	var segs []Segment
	sc := bufio.NewScanner(bytes.NewReader(out))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		energyText, desc, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: line %d has no descriptor", ErrMalformedOutput, line)
		}
		energy, err := strconv.ParseFloat(strings.TrimSpace(energyText), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedOutput, line, err)
		}
		segs = append(segs, Segment{Descriptor: strings.TrimSpace(desc), Energy: energy})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return segs, nil
}
