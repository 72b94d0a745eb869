package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompleteJSON asks the model for a completion and decodes the answer into
// T. Models routinely wrap JSON in markdown fences even when told not to,
// so the fence is stripped before decoding.
func CompleteJSON[T any](ctx context.Context, c Completer, system, prompt string) (T, error) {
	var out T
	raw, err := c.Complete(ctx, system, prompt)
	if err != nil {
		return out, err
	}
	cleaned := StripFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, fmt.Errorf("decode model response: %w", err)
	}
	return out, nil
}

// StripFence removes a surrounding ```json ... ``` (or bare ```) markdown
// fence from a model response, if present.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
