package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiGateway speaks the OpenAI-compatible chat completions API.
type openaiGateway struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	maxTokens   int
	headers     map[string]string
	render      RenderOptions
	httpClient  *http.Client
	logger      logging.Logger
}

// NewOpenAIGateway constructs a gateway for an OpenAI-compatible endpoint.
func NewOpenAIGateway(config Config, logger logging.Logger) (ports.ModelGateway, error) {
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("openai gateway: model is required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &openaiGateway{
		model:       config.Model,
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		headers:     config.Headers,
		render:      config.renderOptions(),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logging.Component(logger, "openai"),
	}, nil
}

func (c *openaiGateway) Generate(ctx context.Context, state ports.ConversationState, tools []ports.ToolSpec) (ports.ModelResponse, error) {
	logger := logging.FromContext(ctx, c.logger)

	oaiReq := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": SystemPrompt(tools)},
			{"role": "user", "content": RenderConversation(state, c.render)},
		},
		"temperature":     c.temperature,
		"response_format": map[string]string{"type": "json_object"},
		"stream":          false,
	}
	if c.maxTokens > 0 {
		oaiReq["max_tokens"] = c.maxTokens
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return ports.ModelResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.ModelResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	logger.Debug("POST %s model=%s bytes=%d", endpoint, c.model, len(body))
	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Debug("HTTP request failed: %v", err)
		return ports.ModelResponse{}, wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.ModelResponse{}, wrapRequestError(fmt.Errorf("read response: %w", err))
	}
	logger.Debug("status=%d latency=%s", resp.StatusCode, time.Since(started).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.ModelResponse{}, mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return ports.ModelResponse{}, fmt.Errorf("decode response: %w", err)
	}

	usage := ports.TokenUsage{
		PromptTokens:     oaiResp.Usage.PromptTokens,
		CompletionTokens: oaiResp.Usage.CompletionTokens,
		TotalTokens:      oaiResp.Usage.TotalTokens,
	}
	if len(oaiResp.Choices) == 0 {
		out := ports.MalformedResponse("", "backend returned no choices")
		out.Usage = usage
		return out, nil
	}

	choice := oaiResp.Choices[0]
	if choice.FinishReason == "length" {
		out := ports.MalformedResponse(choice.Message.Content, "response was cut off by the token limit")
		out.Usage = usage
		return out, nil
	}
	out := ParseResponse(choice.Message.Content)
	out.Usage = usage
	return out, nil
}
