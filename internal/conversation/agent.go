// Package conversation routes text-transformation prompts to the
// configured agent backend: a Home Assistant conversation agent, or a
// local Ollama model for agent references of the form "ollama:<model>".
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ollamaPrefix marks agent references served by the local model
// backend instead of Home Assistant.
const ollamaPrefix = "ollama:"

// Agent generates a reply for a prompt using the named agent. Failures
// are recoverable by design: callers fall back to the untransformed
// message.
type Agent interface {
	Generate(ctx context.Context, agentRef, prompt string) (string, error)
}

// HAConverser is satisfied by the Home Assistant REST client.
type HAConverser interface {
	Converse(ctx context.Context, agentID, text string) (string, error)
}

// ModelGenerator is satisfied by the Ollama client.
type ModelGenerator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Mux dispatches agent calls by reference prefix.
type Mux struct {
	ha     HAConverser
	models ModelGenerator
	logger *slog.Logger
}

// NewMux creates an agent mux. Either backend may be nil; calls that
// would need the missing backend return an error.
func NewMux(ha HAConverser, models ModelGenerator, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{ha: ha, models: models, logger: logger}
}

// Generate routes the prompt to the backend the agent reference names.
func (m *Mux) Generate(ctx context.Context, agentRef, prompt string) (string, error) {
	if model, ok := strings.CutPrefix(agentRef, ollamaPrefix); ok {
		if m.models == nil {
			return "", fmt.Errorf("agent %q requires an ollama endpoint, none configured", agentRef)
		}
		m.logger.Debug("agent call", "backend", "ollama", "model", model)
		return m.models.Generate(ctx, model, prompt)
	}

	if m.ha == nil {
		return "", fmt.Errorf("agent %q requires Home Assistant, not connected", agentRef)
	}
	m.logger.Debug("agent call", "backend", "homeassistant", "agent", agentRef)
	return m.ha.Converse(ctx, agentRef, prompt)
}
