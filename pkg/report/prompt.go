package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/plugsift/plugsift/pkg/engine"
)

// FinalChoice is the operator's disposition of Failed plugins.
type FinalChoice string

const (
	FinalQuarantine FinalChoice = "quarantine"
	FinalRevert     FinalChoice = "revert"
	FinalExit       FinalChoice = "exit"
)

// Option is one keyed answer.
type Option struct {
	Key   string
	Label string
	Value string
}

// Prompter asks the operator questions on a terminal.
type Prompter struct {
	in     *Input
	out    io.Writer
	styles Styles
}

// NewPrompter creates a prompter reading from in and writing to out.
func NewPrompter(in *Input, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out, styles: NewStyles(out)}
}

// Choose prints the options and reads lines until one matches a key.
// Keys match case-insensitively on the first character.
func (p *Prompter) Choose(ctx context.Context, question string, options []Option) (Option, error) {
	fmt.Fprintln(p.out, p.styles.Warn.Render(question))
	keys := make([]string, len(options))
	for i, o := range options {
		keys[i] = strings.ToUpper(o.Key)
		fmt.Fprintf(p.out, "%s %s\n", p.styles.Key.Render("["+keys[i]+"]"), o.Label)
	}
	hint := "Enter " + joinKeys(keys) + ": "

	for {
		fmt.Fprint(p.out, p.styles.Key.Render(hint))
		line, err := p.in.ReadLine(ctx)
		if err != nil {
			return Option{}, err
		}
		if line != "" {
			for _, o := range options {
				if strings.EqualFold(line[:1], o.Key) {
					return o, nil
				}
			}
		}
		fmt.Fprintln(p.out, p.styles.Failed.Render(fmt.Sprintf("Invalid key %q. %s", line, strings.TrimSuffix(hint, ": "))))
	}
}

func joinKeys(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	default:
		return strings.Join(keys[:len(keys)-1], ", ") + " or " + keys[len(keys)-1]
	}
}

// OnPause implements engine.PauseHandler.
func (p *Prompter) OnPause(ctx context.Context, info engine.PauseInfo) (engine.PauseChoice, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.styles.Header.Render(fmt.Sprintf("[PAUSED] %s trial of %d plugin(s) stopped.", info.Kind, len(info.Batch))))
	opt, err := p.Choose(ctx, "What would you like to do?", []Option{
		{Key: "r", Label: "Resume testing", Value: string(engine.PauseResume)},
		{Key: "v", Label: "Revert the order file and quit", Value: string(engine.PauseRevert)},
		{Key: "q", Label: "Quit without reverting", Value: string(engine.PauseQuit)},
	})
	if err != nil {
		return "", err
	}
	return engine.PauseChoice(opt.Value), nil
}

// Confirm implements engine.Confirmer. Anything but an answer starting
// with y is no, including a closed input.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprint(p.out, p.styles.Key.Render(question+" [y/N]: "))
	line, err := p.in.ReadLine(ctx)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(p.out)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(line), "y"), nil
}

// Final asks what to do with the failed plugins. A closed input means
// exit.
func (p *Prompter) Final(ctx context.Context) (FinalChoice, error) {
	opt, err := p.Choose(ctx, "What now?", []Option{
		{Key: "q", Label: "Quarantine failed plugins", Value: string(FinalQuarantine)},
		{Key: "r", Label: "Revert to the original order file", Value: string(FinalRevert)},
		{Key: "e", Label: "Exit without changes", Value: string(FinalExit)},
	})
	if errors.Is(err, io.EOF) {
		return FinalExit, nil
	}
	if err != nil {
		return "", err
	}
	return FinalChoice(opt.Value), nil
}

// Notify prints a line.
func (p *Prompter) Notify(msg string) {
	fmt.Fprintln(p.out, msg)
}

// Warn prints a highlighted line.
func (p *Prompter) Warn(msg string) {
	fmt.Fprintln(p.out, p.styles.Warn.Render(msg))
}

var (
	_ engine.PauseHandler = (*Prompter)(nil)
	_ engine.Confirmer    = (*Prompter)(nil)
)
