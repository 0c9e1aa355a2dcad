package announce

import (
	"context"
	"log/slog"
	"strings"

	"github.com/herald-home/herald/internal/conversation"
	"github.com/herald-home/herald/internal/prompts"
)

// Pipeline applies AI enhancement and translation to a message through
// a conversation agent. It is deliberately forgiving: any agent
// failure falls back to the original message, and delivery is never
// blocked on transformation.
type Pipeline struct {
	agent     conversation.Agent
	templates prompts.Templates
	logger    *slog.Logger
}

// NewPipeline creates a text pipeline. A nil agent disables all
// transformation (messages pass through with a configuration-gap log).
func NewPipeline(agent conversation.Agent, templates prompts.Templates, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{agent: agent, templates: templates, logger: logger}
}

// Transform runs the requested transformations for one assignment and
// returns the message to speak plus a warning reason when a
// transformation failed and the original text was used. The returned
// message is never empty and never a raw template.
//
// When both enhancement and translation are requested, a single
// combined template is sent in one agent call so a partial failure
// cannot produce a half-transformed message.
func (p *Pipeline) Transform(ctx context.Context, message string, prof Profile, enhance, translate bool) (string, Reason) {
	if !enhance && !translate {
		return message, ReasonNone
	}

	if prof.Agent == "" || p.agent == nil {
		// A transformation without an agent is a configuration gap,
		// not an error: deliver the original text.
		p.logger.Warn("text transformation requested but no agent bound",
			"profile", prof.Name, "enhance", enhance, "translate", translate)
		return message, ReasonNone
	}

	var template string
	var failure Reason
	switch {
	case enhance && translate:
		template = p.templates.Both
		failure = ReasonPipelineError
	case translate:
		template = p.templates.Translate
		failure = ReasonTranslationError
	default:
		template = p.templates.Enhance
		failure = ReasonEnhancementError
	}

	prompt := prompts.Render(template, prof.Language, message)

	reply, err := p.agent.Generate(ctx, prof.Agent, prompt)
	if err != nil {
		p.logger.Warn("text transformation failed, using original message",
			"profile", prof.Name, "agent", prof.Agent, "reason", failure, "error", err)
		return message, failure
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		p.logger.Warn("agent returned empty transformation, using original message",
			"profile", prof.Name, "agent", prof.Agent)
		return message, failure
	}

	p.logger.Debug("message transformed",
		"profile", prof.Name, "original", message, "transformed", reply)
	return reply, ReasonNone
}
