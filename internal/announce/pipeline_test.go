package announce

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/herald-home/herald/internal/prompts"
)

// fakeAgent records the prompt it saw and returns a canned reply.
type fakeAgent struct {
	reply  string
	err    error
	prompt string
	agent  string
	calls  int
}

func (a *fakeAgent) Generate(_ context.Context, agentRef, prompt string) (string, error) {
	a.calls++
	a.agent = agentRef
	a.prompt = prompt
	return a.reply, a.err
}

func testProfile() Profile {
	return Profile{
		Name:     "John",
		Language: "spanish",
		Agent:    "conversation.home_assistant",
	}
}

func TestPipelinePassThrough(t *testing.T) {
	agent := &fakeAgent{reply: "should not be called"}
	p := NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn := p.Transform(context.Background(), "Dinner is ready", testProfile(), false, false)

	if got != "Dinner is ready" || warn != ReasonNone {
		t.Errorf("got (%q, %q), want pass-through", got, warn)
	}
	if agent.calls != 0 {
		t.Errorf("agent called %d times on pass-through", agent.calls)
	}
}

func TestPipelineTranslate(t *testing.T) {
	agent := &fakeAgent{reply: "La cena está lista"}
	p := NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn := p.Transform(context.Background(), "Dinner is ready", testProfile(), false, true)

	if got != "La cena está lista" || warn != ReasonNone {
		t.Errorf("got (%q, %q)", got, warn)
	}
	if !strings.Contains(agent.prompt, "spanish") {
		t.Errorf("prompt missing language: %q", agent.prompt)
	}
	if !strings.Contains(agent.prompt, "Dinner is ready") {
		t.Errorf("prompt missing message: %q", agent.prompt)
	}
	if agent.agent != "conversation.home_assistant" {
		t.Errorf("wrong agent ref %q", agent.agent)
	}
}

func TestPipelineCombinedSingleCall(t *testing.T) {
	agent := &fakeAgent{reply: "¡La cena está lista, vengan!"}
	p := NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn := p.Transform(context.Background(), "Dinner is ready", testProfile(), true, true)

	if warn != ReasonNone {
		t.Errorf("unexpected warning %q", warn)
	}
	if got != "¡La cena está lista, vengan!" {
		t.Errorf("got %q", got)
	}
	if agent.calls != 1 {
		t.Errorf("combined transform made %d agent calls, want 1", agent.calls)
	}
}

func TestPipelineFailureFallsBackToOriginal(t *testing.T) {
	tests := []struct {
		name      string
		enhance   bool
		translate bool
		want      Reason
	}{
		{"translate", false, true, ReasonTranslationError},
		{"enhance", true, false, ReasonEnhancementError},
		{"both", true, true, ReasonPipelineError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agent := &fakeAgent{err: errors.New("agent offline")}
			p := NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

			got, warn := p.Transform(context.Background(), "Dinner is ready", testProfile(), tc.enhance, tc.translate)

			if got != "Dinner is ready" {
				t.Errorf("expected original message back, got %q", got)
			}
			if warn != tc.want {
				t.Errorf("warning = %q, want %q", warn, tc.want)
			}
		})
	}
}

func TestPipelineEmptyReplyFallsBack(t *testing.T) {
	agent := &fakeAgent{reply: "   \n"}
	p := NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn := p.Transform(context.Background(), "hi", testProfile(), false, true)

	if got != "hi" || warn != ReasonTranslationError {
		t.Errorf("got (%q, %q)", got, warn)
	}
}

func TestPipelineNoAgentIsConfigGapNotError(t *testing.T) {
	p := NewPipeline(nil, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn := p.Transform(context.Background(), "hi", testProfile(), true, true)

	if got != "hi" || warn != ReasonNone {
		t.Errorf("got (%q, %q), want silent pass-through", got, warn)
	}

	prof := testProfile()
	prof.Agent = ""
	agent := &fakeAgent{reply: "nope"}
	p = NewPipeline(agent, prompts.NewTemplates("", "", ""), discardLogger())

	got, warn = p.Transform(context.Background(), "hi", prof, true, false)
	if got != "hi" || warn != ReasonNone || agent.calls != 0 {
		t.Errorf("profile without agent ref should pass through, got (%q, %q), %d calls", got, warn, agent.calls)
	}
}
