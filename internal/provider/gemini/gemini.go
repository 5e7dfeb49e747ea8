package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const providerKey = "gemini"

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(apiKey string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
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

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(providerKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(providerKey, resp.StatusCode, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: fmt.Sprintf("decoding response: %v", err)}
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: "no candidates in response"}
	}

	out := &provider.Response{
		Content:      geminiResp.Candidates[0].Content.Parts[0].Text,
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		Model:        req.Model,
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

func (p *Provider) mapRequest(req *provider.Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	return geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
}

func (p *Provider) Models() []provider.ModelDescriptor {
	return []provider.ModelDescriptor{
		{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro"},
		{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash"},
		{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash"},
	}
}

func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{
		DisplayName:  "Google Gemini",
		DocsURL:      "https://ai.google.dev/docs",
		RequiredKeys: []string{"GEMINI_API_KEY"},
	}
}
