package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const providerKey = "claude"

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(apiKey string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		client:  http.DefaultClient,
	}
}

// NewWithBaseURL is used by tests to point the adapter at a fake backend.
func NewWithBaseURL(apiKey, baseURL string) *Provider {
	p := New(apiKey)
	p.baseURL = baseURL
	return p
}

func (p *Provider) Key() string { return providerKey }

func (p *Provider) Available() bool { return p.apiKey != "" }

func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(providerKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(providerKey, resp.StatusCode, string(respBody))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: fmt.Sprintf("decoding response: %v", err)}
	}

	if len(claudeResp.Content) == 0 {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: "no content in response"}
	}

	out := &provider.Response{
		ID:           claudeResp.ID,
		Content:      claudeResp.Content[0].Text,
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
		Model:        claudeResp.Model,
		Provider:     providerKey,
	}
	if out.InputTokens == 0 && out.OutputTokens == 0 {
		estimateUsage(req, out)
	}
	return out, nil
}

func estimateUsage(req *provider.Request, resp *provider.Response) {
	var in int
	for _, m := range req.Messages {
		in += provider.EstimateTokens(m.Content)
	}
	resp.InputTokens = in
	resp.OutputTokens = provider.EstimateTokens(resp.Content)
	resp.TokensEstimated = true
}

func (p *Provider) mapRequest(req *provider.Request) claudeRequest {
	var system string
	var messages []claudeMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, claudeMessage{Role: role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return claudeRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
	}
}

func (p *Provider) Models() []provider.ModelDescriptor {
	return []provider.ModelDescriptor{
		{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet"},
		{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku"},
		{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus"},
		{ID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku"},
	}
}

func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{
		DisplayName:  "Anthropic Claude",
		DocsURL:      "https://docs.anthropic.com",
		RequiredKeys: []string{"ANTHROPIC_API_KEY"},
	}
}
