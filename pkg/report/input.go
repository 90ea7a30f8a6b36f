package report

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Input reads operator lines from a reader on one goroutine. A line typed
// while a trial runs is a pause request; between trials lines answer
// prompts. The goroutine exits when the reader reaches EOF.
type Input struct {
	lines chan string
}

// NewInput starts reading r.
func NewInput(r io.Reader) *Input {
	in := &Input{lines: make(chan string)}
	go in.read(r)
	return in
}

func (in *Input) read(r io.Reader) {
	defer close(in.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		in.lines <- strings.TrimSpace(sc.Text())
	}
}

// ReadLine blocks for the next line. It returns io.EOF once the reader is
// exhausted.
func (in *Input) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-in.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// Requested reports whether a line is waiting and consumes it. It never
// blocks.
func (in *Input) Requested() bool {
	select {
	case _, ok := <-in.lines:
		return ok
	default:
		return false
	}
}
