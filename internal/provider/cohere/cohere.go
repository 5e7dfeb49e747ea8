package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const providerKey = "cohere"

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type cohereRequest struct {
	Message     string          `json:"message"`
	Model       string          `json:"model"`
	Preamble    string          `json:"preamble,omitempty"`
	ChatHistory []cohereHistory `json:"chat_history,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type cohereHistory struct {
	Role    string `json:"role"` // "USER" or "CHATBOT"
	Message string `json:"message"`
}

type cohereResponse struct {
	GenerationID string     `json:"generation_id"`
	Text         string     `json:"text"`
	Meta         cohereMeta `json:"meta"`
}

type cohereMeta struct {
	BilledUnits cohereBilledUnits `json:"billed_units"`
}

type cohereBilledUnits struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(apiKey string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: "https://api.cohere.com/v1",
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

	url := fmt.Sprintf("%s/chat", p.baseURL)
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

	var cohereResp cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&cohereResp); err != nil {
		return nil, &provider.Error{Provider: providerKey, Kind: provider.KindUpstream, Detail: fmt.Sprintf("decoding response: %v", err)}
	}

	out := &provider.Response{
		ID:           cohereResp.GenerationID,
		Content:      cohereResp.Text,
		InputTokens:  cohereResp.Meta.BilledUnits.InputTokens,
		OutputTokens: cohereResp.Meta.BilledUnits.OutputTokens,
		Model:        req.Model,
		Provider:     providerKey,
	}
	// Cohere reports billed units in meta; older responses omit them.
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

// mapRequest flattens the message list into Cohere's chat shape: the last
// user message becomes the prompt, prior turns become chat_history, and a
// system message becomes the preamble.
func (p *Provider) mapRequest(req *provider.Request) cohereRequest {
	var preamble, message string
	var history []cohereHistory

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			preamble = m.Content
		case "assistant":
			history = append(history, cohereHistory{Role: "CHATBOT", Message: m.Content})
		default:
			if message != "" {
				history = append(history, cohereHistory{Role: "USER", Message: message})
			}
			message = m.Content
		}
	}

	return cohereRequest{
		Message:     message,
		Model:       req.Model,
		Preamble:    preamble,
		ChatHistory: history,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (p *Provider) Models() []provider.ModelDescriptor {
	return []provider.ModelDescriptor{
		{ID: "command-r-plus", DisplayName: "Command R+"},
		{ID: "command-r", DisplayName: "Command R"},
		{ID: "command-light", DisplayName: "Command Light"},
	}
}

func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{
		DisplayName:  "Cohere",
		DocsURL:      "https://docs.cohere.com",
		RequiredKeys: []string{"COHERE_API_KEY"},
	}
}
