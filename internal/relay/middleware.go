package relay

import (
	"context"
	"log/slog"
	"time"
)

// maxPromptLogLen is the maximum length for logged prompts before truncation.
const maxPromptLogLen = 200

// slowFirstChunkThreshold is the wait for the first fragment above which a
// generation is logged at WARN level.
const slowFirstChunkThreshold = 5 * time.Second

// WithLogging returns a Generator that logs every generation with timing.
// A slow first fragment is logged at WARN level, failures at ERROR.
// Prompts are truncated to 200 characters.
func WithLogging(next Generator, logger *slog.Logger) Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return loggingGenerator{next: next, logger: logger.With("component", "generator")}
}

type loggingGenerator struct {
	next   Generator
	logger *slog.Logger
}

func (g loggingGenerator) Generate(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	start := time.Now()
	var firstChunk time.Duration
	chunks := 0

	reply, err := g.next.Generate(ctx, prompt, func(piece string) error {
		if chunks == 0 {
			firstChunk = time.Since(start)
		}
		chunks++
		return onChunk(piece)
	})

	// Build log attributes
	attrs := []any{
		"prompt", truncate(prompt, maxPromptLogLen),
		"chunks", chunks,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if chunks > 0 {
		attrs = append(attrs, "first_chunk_ms", firstChunk.Milliseconds())
	}

	// Log based on outcome and latency
	switch {
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		g.logger.Error("generation failed", attrs...)
	case firstChunk > slowFirstChunkThreshold:
		g.logger.Warn("slow generation", attrs...)
	default:
		g.logger.Debug("generation completed", attrs...)
	}

	return reply, err
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
