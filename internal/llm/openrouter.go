package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "meta-llama/llama-3.1-8b-instruct:free"
)

const systemPrompt = `You are AgriVoice, an expert agricultural advisor helping farmers in India.

Your role:
- Provide practical, actionable farming advice
- Focus on pest management, crop care, irrigation, fertilizers, weather, and market prices
- Give answers in 3-5 short, clear steps
- Use simple language appropriate for farmers
- Consider local Indian farming practices and conditions
- When uncertain, recommend contacting local agricultural extension officers

Response format:
- Keep answers concise and practical
- Prioritize safety and sustainable farming practices
- Mention specific quantities and timings when relevant
- Consider seasonal factors

Always respond in the same language as the user's question.`

// OpenRouterClient generates advisory answers through an OpenAI-compatible
// chat completions endpoint.
type OpenRouterClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
	// Referer is sent as HTTP-Referer, which OpenRouter uses for attribution.
	Referer string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewOpenRouterClient(apiKey, model string) *OpenRouterClient {
	if model == "" {
		model = DefaultModel
	}
	return &OpenRouterClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   DefaultEndpoint,
		Referer:    "https://agrivoice.app",
	}
}

// Generate answers a farmer's question. The language argument is unused by the
// model call; the system prompt asks the model to mirror the question's language.
func (c *OpenRouterClient) Generate(ctx context.Context, query, _ string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("openrouter api key missing")
	}
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}
	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages, Temperature: 0.7, MaxTokens: 500})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "openrouter: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.Referer)
	req.Header.Set("X-Title", "AgriVoice")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "openrouter: request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var er chatErrorResponse
		if json.Unmarshal(b, &er) == nil && er.Error.Message != "" {
			return "", errors.Errorf("openrouter error: status=%d message=%s", resp.StatusCode, er.Error.Message)
		}
		return "", errors.Errorf("openrouter error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", errors.Wrap(err, "openrouter: decode response")
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("openrouter: empty choices")
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("openrouter: empty answer")
	}
	return answer, nil
}
