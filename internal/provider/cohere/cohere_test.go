package cohere

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %s", r.Header.Get("Authorization"))
		}
		resp := cohereResponse{
			GenerationID: "gen_123",
			Text:         "Hello from Cohere mock!",
			Meta: cohereMeta{
				BilledUnits: cohereBilledUnits{InputTokens: 8, OutputTokens: 16},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL)

	resp, err := p.Complete(context.Background(), &provider.Request{
		Model:    "command-r",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from Cohere mock!" {
		t.Errorf("Expected 'Hello from Cohere mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 8 {
		t.Errorf("Expected 8 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 16 {
		t.Errorf("Expected 16 output tokens, got %d", resp.OutputTokens)
	}
}

func TestComplete_ChatShapeMapping(t *testing.T) {
	var capturedReq cohereRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &capturedReq)

		resp := cohereResponse{
			Text: "ok",
			Meta: cohereMeta{BilledUnits: cohereBilledUnits{InputTokens: 1, OutputTokens: 1}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL)

	_, err := p.Complete(context.Background(), &provider.Request{
		Model: "command-r",
		Messages: []provider.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "first answer"},
			{Role: "user", Content: "second question"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if capturedReq.Preamble != "be terse" {
		t.Errorf("Expected system mapped to preamble, got %q", capturedReq.Preamble)
	}
	if capturedReq.Message != "second question" {
		t.Errorf("Expected last user message as prompt, got %q", capturedReq.Message)
	}
	if len(capturedReq.ChatHistory) != 2 {
		t.Fatalf("Expected 2 history turns, got %d", len(capturedReq.ChatHistory))
	}
	if capturedReq.ChatHistory[0].Role != "CHATBOT" {
		t.Errorf("Expected CHATBOT turn first, got %s", capturedReq.ChatHistory[0].Role)
	}
	if capturedReq.ChatHistory[1].Role != "USER" || capturedReq.ChatHistory[1].Message != "first question" {
		t.Errorf("Expected prior user turn in history, got %+v", capturedReq.ChatHistory[1])
	}
}

func TestComplete_EstimatesWhenBilledUnitsMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"generation_id":"gen_123","text":"response"}`))
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL)

	resp, err := p.Complete(context.Background(), &provider.Request{
		Model:    "command-r",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if !resp.TokensEstimated {
		t.Error("Expected TokensEstimated flag when billed_units are missing")
	}
	if resp.InputTokens == 0 || resp.OutputTokens == 0 {
		t.Errorf("Expected estimated token counts, got in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestKey(t *testing.T) {
	p := New("key")
	if p.Key() != "cohere" {
		t.Errorf("Expected 'cohere', got %s", p.Key())
	}
}

func TestModels(t *testing.T) {
	p := New("key")
	found := false
	for _, m := range p.Models() {
		if m.ID == "command-r-plus" {
			found = true
			break
		}
	}
	if !found {
		t.Error("command-r-plus should be in the model catalog")
	}
}
