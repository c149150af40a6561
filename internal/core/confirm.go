package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Confirmer asks the operator to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoConfirm answers every prompt with its own value. Used for --yes.
type AutoConfirm bool

func (a AutoConfirm) Confirm(context.Context, string) (bool, error) { return bool(a), nil }

// LineConfirmer prints "<prompt> [y/N] " and reads one line. Anything other
// than y or yes is a no, including end of input.
type LineConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (l LineConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if _, err := fmt.Fprintf(l.Out, "%s [y/N] ", prompt); err != nil {
		return false, err
	}
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(l.In).ReadString('\n')
		ch <- answer{line, err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// HuhConfirmer shows an interactive yes/no prompt. Defaults to no.
type HuhConfirmer struct{}

func (HuhConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// NewConfirmer picks the confirmation style: auto-approve with yes, the
// interactive prompt when stdin is a terminal, a plain line prompt
// otherwise.
func NewConfirmer(yes bool, in *os.File, out io.Writer) Confirmer {
	if yes {
		return AutoConfirm(true)
	}
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return HuhConfirmer{}
	}
	return LineConfirmer{In: in, Out: out}
}
