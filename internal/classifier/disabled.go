package classifier

import (
	"context"

	"budget/internal/core"
)

// Disabled is used when no remote classifier is configured. Every batch goes to manual review.
type Disabled struct{}

func (Disabled) Classify(context.Context, []Item, core.Taxonomy) ([]Answer, error) {
	return nil, &Error{Code: CodeDisabled, Message: "no classifier configured", Retryable: false}
}
