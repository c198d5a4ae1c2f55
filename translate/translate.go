// Package translate implements AI-assisted translation of entry batches
// over HTTP API providers (OpenAI-compatible chat, Google Gemini, Anthropic)
// and the batch orchestrator that drives a translation request through them.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/logger"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderGroq         = "groq"
	ProviderAnthropic    = "anthropic"
	ProviderCustomOpenAI = "custom-openai"
	ProviderOllama       = "ollama"
)

// API wire formats understood by HTTPTranslator.
const (
	APIOpenAIChat = "openai"
	APIGemini     = "gemini"
	APIAnthropic  = "anthropic"
)

// ---------------------------------------------------------------------------
// Capability
// ---------------------------------------------------------------------------

// Batch is one unit of work handed to a Translator.
type Batch struct {
	Entries  []entry.Entry
	Language string
	Model    string
}

// Translator translates a batch and returns target text keyed by entry ID.
// Entries missing from the returned map are treated as not translated.
type Translator interface {
	Translate(ctx context.Context, b Batch) (map[string]string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, b Batch) (map[string]string, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, b Batch) (map[string]string, error) {
	return f(ctx, b)
}

// ---------------------------------------------------------------------------
// Default system prompt
// ---------------------------------------------------------------------------

const DefaultSystemPrompt = `You are a professional translator specializing in software and product localization. You are translating UI strings for a software application.

CONTEXT AWARENESS:
- The audience is software users
- Tone: professional yet approachable, clear and concise
- Use IT/software terminology that is standard in {{targetLang}} tech community
- When an entry carries a context hint, use it to pick the right sense of the source text

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in the target language, not word-for-word
- Use idiomatic expressions natural to {{targetLang}}, not literal translations
- Maintain the original tone and intent, but express it naturally in {{targetLang}}

TECHNICAL REQUIREMENTS:
- Return ONLY a JSON array of translated strings, one for each input entry, in the same order.
- Preserve all format specifiers exactly as-is (%s, %d, %%(name)s, {name}, etc.).
- Preserve leading/trailing whitespace, newlines, and punctuation patterns.
- Keep brand names and proper nouns unchanged.
- Return ONLY the JSON array, no explanations or markdown code blocks.`

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (openai, google, groq, ...).
	ID string
	// Name is the display name.
	Name string
	// API selects the wire format: APIOpenAIChat, APIGemini or APIAnthropic.
	API string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the default model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the HTTP client timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			API:     APIOpenAIChat,
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			API:     APIGemini,
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			API:     APIOpenAIChat,
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			API:     APIAnthropic,
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			API:     APIOpenAIChat,
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			API:     APIOpenAIChat,
			BaseURL: "http://localhost:11434/v1",
			Timeout: 120 * time.Second,
		},
	}
}

// ---------------------------------------------------------------------------
// Rate limit state (shared pause across translators of one registry)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return resty.New().SetTransport(transport).SetTimeout(timeout)
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents:         []content{{Role: "user", Parts: []part{{Text: userPrompt}}}},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system,omitempty"`
		Messages  []msg  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages:  []msg{{Role: "user", Content: userPrompt}},
	}
	return json.Marshal(req)
}

// buildHTTPRequest constructs the endpoint, headers, and body for a provider.
func buildHTTPRequest(prov Provider, model, systemPrompt, userPrompt string) (string, map[string]string, []byte, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	base := strings.TrimRight(prov.BaseURL, "/")

	var (
		endpoint string
		body     []byte
		err      error
	)
	switch prov.API {
	case APIGemini:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.3)
	case APIAnthropic:
		endpoint = base + "/messages"
		if prov.APIKey != "" {
			headers["x-api-key"] = prov.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(model, systemPrompt, userPrompt)
	default:
		endpoint = base
		if !strings.HasSuffix(base, "/chat/completions") {
			endpoint = base + "/chat/completions"
		}
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIChatRequest(model, systemPrompt, userPrompt, 0.3)
	}
	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Response parsing (multi-format)
// ---------------------------------------------------------------------------

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// OpenAI chat: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Gemini: candidates[0].content.parts[0].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	// Anthropic: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok && block["type"] == "text" {
				if text, ok := block["text"].(string); ok {
					return text, nil
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// It looks for Google's RetryInfo detail and falls back to 60s plus a
// 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}
	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}
	return defaultDelay
}

// ---------------------------------------------------------------------------
// HTTPTranslator
// ---------------------------------------------------------------------------

// HTTPTranslator is a Translator backed by one HTTP API provider.
type HTTPTranslator struct {
	Provider Provider
	// SystemPrompt overrides DefaultSystemPrompt. {{targetLang}} is replaced
	// with the batch language name.
	SystemPrompt string
	// MaxRetries bounds retries on 429, 5xx and transport errors. Default: 3.
	MaxRetries int
	// Backoff is the base delay for exponential backoff. Default: 1s.
	Backoff time.Duration

	client *resty.Client
	rl     *rateLimitState
	log    *logger.Logger
}

// NewHTTPTranslator builds a translator for prov.
func NewHTTPTranslator(prov Provider) *HTTPTranslator {
	return newHTTPTranslator(prov, &rateLimitState{})
}

func newHTTPTranslator(prov Provider, rl *rateLimitState) *HTTPTranslator {
	return &HTTPTranslator{
		Provider: prov,
		client:   makeHTTPClient(prov.Proxy, prov.Timeout),
		rl:       rl,
		log:      logger.Named("translate.http"),
	}
}

func (t *HTTPTranslator) maxRetries() int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return 3
}

func (t *HTTPTranslator) backoff(attempt int) time.Duration {
	base := t.Backoff
	if base <= 0 {
		base = time.Second
	}
	return time.Duration(math.Pow(2, float64(attempt))) * base
}

func (t *HTTPTranslator) prompt(lang string) string {
	p := t.SystemPrompt
	if p == "" {
		p = DefaultSystemPrompt
	}
	return strings.ReplaceAll(p, "{{targetLang}}", languageName(lang))
}

// Translate sends the batch as one request and maps the returned JSON array
// back onto entry IDs by position.
func (t *HTTPTranslator) Translate(ctx context.Context, b Batch) (map[string]string, error) {
	if len(b.Entries) == 0 {
		return map[string]string{}, nil
	}
	model := b.Model
	if model == "" {
		model = t.Provider.Model
	}
	if model == "" {
		return nil, apperr.Validationf("translate", "provider %s: no model configured", t.Provider.ID)
	}

	text, err := t.call(ctx, model, t.prompt(b.Language), buildUserPrompt(b.Entries))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExternalCall, "translate: "+t.Provider.ID)
	}
	translations, err := parseTranslations(text, len(b.Entries))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExternalCall, "translate: "+t.Provider.ID)
	}
	if len(translations) != len(b.Entries) {
		return nil, apperr.Newf(apperr.KindExternalCall, "translate: "+t.Provider.ID,
			"got %d translations, expected %d", len(translations), len(b.Entries))
	}

	out := make(map[string]string, len(b.Entries))
	for i, e := range b.Entries {
		out[e.ID()] = translations[i]
	}
	return out, nil
}

// call posts one prompt with retries and returns the response text.
func (t *HTTPTranslator) call(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	endpoint, headers, body, err := buildHTTPRequest(t.Provider, model, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	maxRetries := t.maxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if t.rl != nil {
			if err := t.rl.waitIfPaused(ctx); err != nil {
				return "", err
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		t.log.Debug().Str("provider", t.Provider.ID).Int("attempt", attempt+1).Str("endpoint", endpoint).Msg("POST")

		resp, err := t.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			Post(endpoint)
		if err != nil {
			if attempt < maxRetries && ctx.Err() == nil {
				if err := sleep(ctx, t.backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}
		respBody := resp.Body()

		if resp.StatusCode() == http.StatusTooManyRequests {
			retryDelay := parseRetryDelay(respBody)
			t.log.Warn().Str("provider", t.Provider.ID).Dur("retry_in", retryDelay).
				Int("attempt", attempt+1).Int("max_retries", maxRetries).Msg("rate limited")
			if t.rl != nil {
				t.rl.pause(retryDelay)
			}
			if attempt < maxRetries {
				if err := sleep(ctx, retryDelay); err != nil {
					return "", err
				}
				if t.rl != nil {
					t.rl.unpause()
				}
				continue
			}
			return "", fmt.Errorf("rate limited after %d retries: %s", maxRetries, truncate(string(respBody), 500))
		}

		if resp.StatusCode() != http.StatusOK {
			if attempt < maxRetries && resp.StatusCode() >= 500 {
				if err := sleep(ctx, t.backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode(), truncate(string(respBody), 500))
		}

		return extractResponseText(respBody)
	}
	return "", fmt.Errorf("exhausted all %d retries", maxRetries)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
