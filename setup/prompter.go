// SPDX-License-Identifier: Apache-2.0

package setup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/chain/icp"
)

// TerminalPrompter asks yes/no questions on a terminal.
type TerminalPrompter struct {
	out io.Writer

	mu    sync.Mutex
	lines chan string
	once  sync.Once
	in    *bufio.Scanner
}

var _ icp.Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter returns a prompter reading answers from in and
// writing questions to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{out: out, in: bufio.NewScanner(in), lines: make(chan string)}
}

// read forwards input lines. It runs once per prompter so that an abandoned
// prompt does not lose the next answer.
func (p *TerminalPrompter) read() {
	defer close(p.lines)
	for p.in.Scan() {
		p.lines <- p.in.Text()
	}
}

// Prompt asks question and reports whether it was answered with yes. A
// closed input counts as no.
func (p *TerminalPrompter) Prompt(ctx context.Context, question string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once.Do(func() { go p.read() })

	if _, err := fmt.Fprintf(p.out, "%s [y/N] ", question); err != nil {
		return false, errors.WithMessage(err, "writing prompt")
	}
	select {
	case line, ok := <-p.lines:
		if !ok {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, chain.ContextError(ctx.Err())
	}
}
