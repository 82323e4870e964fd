// Package console talks to the operator: it announces each phase of a run
// and holds the run at the funding gate until the operator confirms.
package console

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"tokenflow/internal/config"
	xerrors "tokenflow/internal/errors"
)

// Gate blocks until an external condition is confirmed.
type Gate interface {
	Wait(ctx context.Context, prompt string) error
}

// NewGate returns the gate for mode. An empty mode means prompt.
func NewGate(mode string, in io.Reader, out io.Writer, timeout time.Duration) (Gate, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", config.FundingModePrompt:
		return NewPromptGate(in, out, timeout), nil
	case config.FundingModeSkip:
		return SkipGate{}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown funding mode %q", mode))
	}
}

// PromptGate prints a prompt and waits for one line of input. A single
// reader goroutine owns the input for the lifetime of the gate, so a line
// typed after an expired Wait confirms the next one.
type PromptGate struct {
	in      *bufio.Reader
	out     io.Writer
	timeout time.Duration

	start sync.Once
	lines chan line

	mu     sync.Mutex
	closed error
}

// NewPromptGate reads confirmations from in. A zero timeout waits forever.
func NewPromptGate(in io.Reader, out io.Writer, timeout time.Duration) *PromptGate {
	if out == nil {
		out = io.Discard
	}
	return &PromptGate{in: bufio.NewReader(in), out: out, timeout: timeout, lines: make(chan line)}
}

type line struct {
	text string
	err  error
}

// read feeds lines until the input fails. The final line carries the error.
func (g *PromptGate) read() {
	for {
		text, err := g.in.ReadString('\n')
		g.lines <- line{text: text, err: err}
		if err != nil {
			return
		}
	}
}

func (g *PromptGate) inputClosed() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Wait returns nil once a line is read. Cancellation of ctx yields ABORTED;
// the timeout and a closed input yield FUNDING_ABORTED.
func (g *PromptGate) Wait(ctx context.Context, prompt string) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeAborted, err, "cancelled before funding confirmation")
	}
	if err := g.inputClosed(); err != nil {
		return xerrors.Wrap(xerrors.CodeFundingAborted, err, "input closed before funding confirmation")
	}
	fmt.Fprint(g.out, prompt)
	g.start.Do(func() { go g.read() })

	var expired <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(g.out)
		return xerrors.Wrap(xerrors.CodeAborted, ctx.Err(), "cancelled while waiting for funding confirmation")
	case <-expired:
		fmt.Fprintln(g.out)
		return xerrors.New(xerrors.CodeFundingAborted, "no funding confirmation received",
			xerrors.WithMetadata("timeout", g.timeout.String()))
	case got := <-g.lines:
		if got.err == nil {
			return nil
		}
		g.mu.Lock()
		g.closed = got.err
		g.mu.Unlock()
		if stdErrors.Is(got.err, io.EOF) && got.text != "" {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeFundingAborted, got.err, "input closed before funding confirmation")
	}
}

// SkipGate confirms immediately. It suits pre-funded development chains.
type SkipGate struct{}

func (SkipGate) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeAborted, err, "cancelled before funding confirmation")
	}
	return nil
}
