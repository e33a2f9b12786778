// Package llm talks to the language-model provider. Every external call
// goes through the Gateway, which enforces a request-rate ceiling, a
// circuit breaker and bounded retries.
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

	"github.com/stellarlinkco/triad/internal/config"
)

// ContextRecord is one memory record handed to the model as context.
type ContextRecord struct {
	Author    string `json:"author,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// PersonaInfo describes one catalog entry for the selection prompt.
type PersonaInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Style       string `json:"style"`
}

// GenerateRequest carries everything the combined selection+generation
// call needs. One call returns both the selected persona and its response;
// splitting into routing-then-generation would double external-call volume.
type GenerateRequest struct {
	Message   string
	Channel   string
	Phase     string
	Task      string
	ShortTerm []ContextRecord
	LongTerm  []ContextRecord
	Personas  []PersonaInfo
}

// GenerateResult is the model's combined answer.
type GenerateResult struct {
	Persona    string  `json:"persona"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SummarizeRequest asks for a consolidation summary of one batch of
// short-term records.
type SummarizeRequest struct {
	Channel string
	Records []ContextRecord
}

// SummarizeResult is the model's consolidation output.
type SummarizeResult struct {
	Summary    string   `json:"summary"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

// Client is the raw provider surface. Implementations must be safe for
// concurrent use.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SelectAndGenerate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error)
}

const selectAndGeneratePrompt = `You are the supervisor of a team of chat personas. Read the context and answer as exactly one persona.

Personas:
%s

Channel: %s
Phase: %s
Active task: %s

Recent conversation (oldest first):
%s

Related long-term memory:
%s

User message:
%s

Pick the persona best suited to answer and write the reply in that persona's style.
Return strict JSON object: {"persona":"<id>","text":"...","confidence":0.0}`

const summarizePrompt = `Summarize this conversation window from channel %s into one durable memory entry.
Score importance in [0.0, 1.0] (0.9+: decisions and commitments, 0.5: notable discussion, 0.2: small talk).
Return strict JSON object: {"summary":"...","importance":0.5,"tags":["..."]}

Conversation:
%s`

type httpClient struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	expectedDim    int
	maxTokens      int
	client         *http.Client
}

// NewHTTPClient builds the OpenAI-compatible provider client.
func NewHTTPClient(cfg config.ProviderConfig) Client {
	return &httpClient{
		apiKey:         strings.TrimSpace(cfg.APIKey),
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		expectedDim:    cfg.EmbeddingDim,
		maxTokens:      cfg.MaxTokens,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embed: empty text")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.embeddingModel, Input: trimmed})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	respBody, err := c.post(ctx, "/v1/embeddings", payload)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &parseError{cause: fmt.Errorf("embed: decode response: %w", err)}
	}
	if len(decoded.Data) == 0 {
		return nil, &parseError{cause: fmt.Errorf("embed: empty embedding data")}
	}
	vec := decoded.Data[0].Embedding
	if c.expectedDim > 0 && len(vec) != c.expectedDim {
		return nil, &parseError{cause: fmt.Errorf("embed: dimension %d, expected %d", len(vec), c.expectedDim)}
	}
	return vec, nil
}

func (c *httpClient) SelectAndGenerate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	task := req.Task
	if task == "" {
		task = "none"
	}
	prompt := fmt.Sprintf(selectAndGeneratePrompt,
		formatPersonas(req.Personas),
		req.Channel,
		req.Phase,
		task,
		formatRecords(req.ShortTerm),
		formatRecords(req.LongTerm),
		req.Message,
	)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("select and generate: %w", err)
	}

	var out GenerateResult
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, &parseError{cause: fmt.Errorf("select and generate: parse result: %w", err)}
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, &parseError{cause: fmt.Errorf("select and generate: empty response text")}
	}
	return &out, nil
}

func (c *httpClient) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error) {
	prompt := fmt.Sprintf(summarizePrompt, req.Channel, formatRecords(req.Records))

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	var out SummarizeResult
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, &parseError{cause: fmt.Errorf("summarize: parse result: %w", err)}
	}
	if out.Importance < 0 {
		out.Importance = 0
	}
	if out.Importance > 1 {
		out.Importance = 1
	}
	return &out, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *httpClient) complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.7,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, "/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", &parseError{cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &parseError{cause: fmt.Errorf("empty choices in response")}
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

func (c *httpClient) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("missing api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// httpError preserves the status code so the gateway can classify
// transient failures.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.Status, e.Body)
}

func formatPersonas(personas []PersonaInfo) string {
	if len(personas) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, p := range personas {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", p.ID, p.DisplayName, p.Style)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRecords(records []ContextRecord) string {
	if len(records) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for _, r := range records {
		if r.Author != "" {
			fmt.Fprintf(&sb, "[%s] %s\n", r.Author, r.Content)
		} else {
			sb.WriteString(r.Content + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
