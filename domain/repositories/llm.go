package repositories

import "context"

// KnowledgeModel answers free-form questions on behalf of the voice agent.
type KnowledgeModel interface {
	// Ask returns the model's answer to a single question.
	Ask(ctx context.Context, question string) (string, error)
}
