package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"whisper-desk/internal/models"
)

// promptConfirmer asks y/N on the terminal unless --yes was given.
type promptConfirmer struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes *bool
}

func newPromptConfirmer(in io.Reader, out io.Writer, assumeYes *bool) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out, assumeYes: assumeYes}
}

// Confirm implements models.Confirmer.
func (p *promptConfirmer) Confirm(ctx context.Context, prompt models.Prompt) (bool, error) {
	if p.assumeYes != nil && *p.assumeYes {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s [y/N] ", prompt.Message)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
