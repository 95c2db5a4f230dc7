// Package llm provides the text-generation client used for fact extraction,
// with a circuit breaker around the remote model and a strict-JSON response
// parser with a single repair attempt.
package llm

import "context"

// TextGenerator produces a completion for a prompt. Implementations must be
// safe for concurrent use.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
