package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const providerKey = "openai"

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(apiKey string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		client:  http.DefaultClient,
	}
}

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

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(providerKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(providerKey, resp.StatusCode, string(respBody))
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: fmt.Sprintf("decoding response: %v", err)}
	}

	if len(openAIResp.Choices) == 0 {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: "no choices in response"}
	}

	out := &provider.Response{
		ID:           openAIResp.ID,
		Content:      openAIResp.Choices[0].Message.Content,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
		Model:        openAIResp.Model,
		Provider:     providerKey,
	}
	if out.InputTokens == 0 && out.OutputTokens == 0 {
		var in int
		for _, m := range req.Messages {
			in += provider.EstimateTokens(m.Content)
		}
		out.InputTokens = in
		out.OutputTokens = provider.EstimateTokens(out.Content)
		out.TokensEstimated = true
	}
	return out, nil
}

func (p *Provider) mapRequest(req *provider.Request) openAIRequest {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	return openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (p *Provider) Models() []provider.ModelDescriptor {
	return []provider.ModelDescriptor{
		{ID: "gpt-4o", DisplayName: "GPT-4o"},
		{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini"},
		{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo"},
		{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo"},
	}
}

func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{
		DisplayName:  "OpenAI",
		DocsURL:      "https://platform.openai.com/docs",
		RequiredKeys: []string{"OPENAI_API_KEY"},
	}
}
