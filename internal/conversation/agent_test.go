package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

type fakeHA struct {
	agentID string
	text    string
}

func (f *fakeHA) Converse(_ context.Context, agentID, text string) (string, error) {
	f.agentID = agentID
	f.text = text
	return "ha reply", nil
}

type fakeModels struct {
	model  string
	prompt string
}

func (f *fakeModels) Generate(_ context.Context, model, prompt string) (string, error) {
	f.model = model
	f.prompt = prompt
	return "model reply", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMuxRoutesToHA(t *testing.T) {
	ha := &fakeHA{}
	mux := NewMux(ha, &fakeModels{}, discardLogger())

	got, err := mux.Generate(context.Background(), "conversation.home_assistant", "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ha reply" {
		t.Errorf("reply = %q", got)
	}
	if ha.agentID != "conversation.home_assistant" || ha.text != "hello" {
		t.Errorf("HA call = (%q, %q)", ha.agentID, ha.text)
	}
}

func TestMuxRoutesToOllama(t *testing.T) {
	models := &fakeModels{}
	mux := NewMux(&fakeHA{}, models, discardLogger())

	got, err := mux.Generate(context.Background(), "ollama:llama3", "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "model reply" {
		t.Errorf("reply = %q", got)
	}
	if models.model != "llama3" {
		t.Errorf("model = %q, want llama3 (prefix stripped)", models.model)
	}
}

func TestMuxMissingBackend(t *testing.T) {
	mux := NewMux(nil, nil, discardLogger())

	if _, err := mux.Generate(context.Background(), "ollama:llama3", "x"); err == nil {
		t.Error("ollama agent without endpoint should error")
	}
	if _, err := mux.Generate(context.Background(), "conversation.home_assistant", "x"); err == nil {
		t.Error("HA agent without connection should error")
	}
}
