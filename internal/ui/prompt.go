package ui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/tathienbao/repricer/internal/execution"
	"golang.org/x/term"
)

// Confirmer asks the operator whether to keep trading after a failed
// order submission.
type Confirmer struct {
	interactive bool
	run         func(label string) error
}

// NewConfirmer returns a confirmer on the process terminal. When stdin or
// stdout is not a terminal every question is answered no.
func NewConfirmer() *Confirmer {
	return &Confirmer{
		interactive: term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())),
		run: func(label string) error {
			p := promptui.Prompt{Label: label, IsConfirm: true}
			_, err := p.Run()
			return err
		},
	}
}

// Interactive reports whether questions reach an operator.
func (c *Confirmer) Interactive() bool {
	return c.interactive
}

// ContinueAfterSubmissionFailure has the signature of
// engine.SubmissionFailureHandler.
func (c *Confirmer) ContinueAfterSubmissionFailure(ctx context.Context, res execution.Result) bool {
	if !c.interactive {
		return false
	}

	label := fmt.Sprintf("%s %s order submission failed (%v). Continue trading", res.Side, res.Symbol, res.Err)
	answer := make(chan error, 1)
	go func() { answer <- c.run(label) }()

	select {
	case <-ctx.Done():
		return false
	case err := <-answer:
		// promptui reports "no" as ErrAbort and Ctrl-C as ErrInterrupt.
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false
		}
		return err == nil
	}
}
