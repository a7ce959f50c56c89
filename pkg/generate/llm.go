// Package generate turns a natural-language request into a Home Assistant
// automation: it prompts an LLM, validates the answer, feeds the findings
// back until the document passes, and runs the enhancement chain.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLMClient is the completion oracle.
type LLMClient interface {
	// Complete sends a system prompt and user prompt and returns the
	// assistant's text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName identifies the model in results and logs.
	ModelName() string
}

// Default request parameters.
const (
	DefaultAPIVersion  = "2024-02-01"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.2
	DefaultLLMTimeout  = 120 * time.Second
)

// ClientConfig configures an OpenAIClient. Setting AzureDeployment selects
// the Azure OpenAI URL layout and api-key header; otherwise the
// OpenAI-compatible /chat/completions endpoint with a bearer token is used.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	AzureDeployment string
	APIVersion      string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
}

// OpenAIClient calls an OpenAI-compatible or Azure OpenAI chat endpoint.
type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	Deployment string
	APIVersion string
	HTTPClient *http.Client

	temperature float64
	maxTokens   int
}

// NewOpenAIClient validates cfg and returns a client.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api_key is required")
	}
	if cfg.Model == "" && cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("llm model or azure_deployment is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	return &OpenAIClient{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Deployment:  cfg.AzureDeployment,
		APIVersion:  cfg.APIVersion,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ModelName returns the Azure deployment or the model name.
func (c *OpenAIClient) ModelName() string {
	if c.Deployment != "" {
		return c.Deployment
	}
	return c.Model
}

func (c *OpenAIClient) endpoint() string {
	if c.Deployment != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.BaseURL, c.Deployment, c.APIVersion)
	}
	return c.BaseURL + "/chat/completions"
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	in := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if c.Deployment == "" {
		in.Model = c.Model
	}
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Deployment != "" {
		req.Header.Set("api-key", c.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm error [%s]: %s", out.Error.Code, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	if out.Choices[0].FinishReason == "length" {
		return "", fmt.Errorf("llm response was truncated at %d tokens", c.maxTokens)
	}
	return out.Choices[0].Message.Content, nil
}
