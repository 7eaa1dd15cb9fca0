package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

// Prompter asks questions on a terminal. Reads respect context cancellation.
type Prompter struct {
	reader      *bufio.Reader
	writer      io.Writer
	readingLock sync.Mutex
}

// NewPrompter creates a prompter reading from r and writing prompts to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// ReadLine reads one trimmed line.
func (p *Prompter) ReadLine(ctx context.Context) (string, error) {
	type result struct {
		err   error
		value string
	}
	resultCh := make(chan result, 1)

	go func() {
		p.readingLock.Lock()
		defer p.readingLock.Unlock()

		value, err := p.reader.ReadString('\n')
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		// The reading goroutine finishes on its own when input arrives.
		return "", ErrInputCancelled
	case res := <-resultCh:
		if res.err != nil && !(errors.Is(res.err, io.EOF) && res.value != "") {
			return "", res.err
		}
		return strings.TrimSpace(res.value), nil
	}
}

// Ask prints question and returns the answer.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(question)); err != nil {
		return "", err
	}
	return p.ReadLine(ctx)
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	answer, err := p.Ask(ctx, question+" [y/N]")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// Choose asks until the answer is one of options.
func (p *Prompter) Choose(ctx context.Context, question string, options []string) (string, error) {
	prompt := fmt.Sprintf("%s (%s)", question, strings.Join(options, "/"))
	for {
		answer, err := p.Ask(ctx, prompt)
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		if slices.Contains(options, answer) {
			return answer, nil
		}
		if _, err := fmt.Fprintln(p.writer, FormatWarning("Please answer one of: "+strings.Join(options, ", "))); err != nil {
			return "", err
		}
	}
}
