package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"translate-rx/internal/domain"
)

// console prints workflow outcomes. It doubles as the speaker since a
// terminal has no voice output.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) ShowTranslation(slot domain.Slot, result domain.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] original: %s\n", slot, result.OriginalText)
	fmt.Fprintf(c.out, "[%s] translation: %s\n", slot, result.TranslatedText)
}

func (c *console) ShowQuestions(questions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "Follow-up questions:")
	for i, q := range questions {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, q)
	}
}

func (c *console) ShowFailure(slot domain.Slot, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] error: %s\n", slot, message)
}

// Speak prints the text that would be read aloud.
func (c *console) Speak(ctx context.Context, text, voice string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "speak (%s): %s\n", voice, text)
	return err
}
