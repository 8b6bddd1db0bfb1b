package relay

import (
	"context"
	"strings"
	"time"
)

// Echo answers every prompt by repeating it, streamed one word at a time.
// It needs no model and produces the same chunks for the same prompt.
type Echo struct {
	// Prefix is prepended to the reply. Empty means "You said: ".
	Prefix string

	// Delay is slept between chunks to imitate token pacing.
	Delay time.Duration
}

// Generate implements Generator.
func (e Echo) Generate(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "You said: "
	}
	reply := prefix + strings.TrimSpace(prompt)

	for _, piece := range strings.SplitAfter(reply, " ") {
		if piece == "" {
			continue
		}
		if e.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.Delay):
			}
		} else if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onChunk(piece); err != nil {
			return "", err
		}
	}
	return reply, nil
}
