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
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiDefaultTimeout = 120 * time.Second
)

// GeminiProvider implements Provider using Google's Gemini API.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// GeminiOption configures the Gemini provider.
type GeminiOption func(*GeminiProvider)

// WithGeminiModel sets the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(p *GeminiProvider) {
		p.model = model
	}
}

// WithGeminiBaseURL overrides the API base URL.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(p *GeminiProvider) {
		p.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithGeminiHTTPClient sets a custom HTTP client.
func WithGeminiHTTPClient(client *http.Client) GeminiOption {
	return func(p *GeminiProvider) {
		p.httpClient = client
	}
}

// NewGeminiProvider creates a Gemini provider with the given API key.
func NewGeminiProvider(apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:  apiKey,
		baseURL: geminiDefaultBaseURL,
		model:   geminiDefaultModel,
		httpClient: &http.Client{
			Timeout: geminiDefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

func (p *GeminiProvider) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
}

// Gemini API request/response types.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GeminiProvider) buildRequest(messages []Message, opts *GenerateOptions) (*geminiRequest, string) {
	model := p.model
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}

	req := &geminiRequest{}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// Gemini takes the system prompt out of band.
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content}},
			}
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: m.Content}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}

	if opts != nil {
		cfg := &geminiGenerationConfig{}
		set := false
		if opts.Temperature > 0 {
			t := opts.Temperature
			cfg.Temperature = &t
			set = true
		}
		if opts.MaxTokens > 0 {
			cfg.MaxOutputTokens = opts.MaxTokens
			set = true
		}
		if len(opts.Stop) > 0 {
			cfg.StopSequences = opts.Stop
			set = true
		}
		if set {
			req.GenerationConfig = cfg
		}
	}

	return req, model
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, opts *GenerateOptions) (*Response, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	reqBody, model := p.buildRequest(messages, opts)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.checkError(resp.StatusCode, body)
	}

	return p.parseResponse(body, model, time.Since(start))
}

func (p *GeminiProvider) checkError(status int, body []byte) error {
	var apiErr geminiError
	msg := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNoAPIKey, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrInvalidModel, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return fmt.Errorf("%w: %s", ErrProviderDown, msg)
	}
	if strings.Contains(msg, "token count") || strings.Contains(msg, "exceeds the maximum") {
		return fmt.Errorf("%w: %s", ErrContextLength, msg)
	}
	return fmt.Errorf("gemini: API error (status %d): %s", status, msg)
}

func (p *GeminiProvider) parseResponse(body []byte, model string, latency time.Duration) (*Response, error) {
	var apiResp geminiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}

	cand := apiResp.Candidates[0]
	var content strings.Builder
	for _, part := range cand.Content.Parts {
		content.WriteString(part.Text)
	}

	finish := FinishStop
	switch cand.FinishReason {
	case "MAX_TOKENS":
		finish = FinishLength
	case "STOP", "":
		finish = FinishStop
	default:
		finish = FinishError
	}

	return &Response{
		Content:      content.String(),
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
		},
		Model:    model,
		Provider: ProviderGemini,
		Latency:  latency,
	}, nil
}

func (p *GeminiProvider) Ping(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrNoAPIKey
	}
	_, err := p.Generate(ctx, []Message{UserMessage("ping")}, &GenerateOptions{MaxTokens: 1})
	return err
}
