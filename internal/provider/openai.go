package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"afterwon/internal/config"
	"afterwon/internal/media/sniffer"
	"afterwon/internal/models"
)

const (
	defaultModel   = "gpt-image-1"
	defaultSize    = "1024x1024"
	maxErrorBody   = 64 << 10
	maxSuccessBody = 64 << 20
)

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Background     string `json:"background,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// OpenAIClient calls the OpenAI images API.
type OpenAIClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	organization string
	model        string
	timeout      time.Duration
	breaker      *gobreaker.CircuitBreaker[Output]
	log          zerolog.Logger
}

// Option customizes an OpenAIClient.
type Option func(*clientOptions)

type clientOptions struct {
	onBreakerChange func(from, to gobreaker.State)
}

// WithBreakerObserver is called after every circuit breaker transition.
func WithBreakerObserver(fn func(from, to gobreaker.State)) Option {
	return func(o *clientOptions) { o.onBreakerChange = fn }
}

func NewOpenAIClient(cfg config.ProviderConfig, httpClient *http.Client, log zerolog.Logger, opts ...Option) *OpenAIClient {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "image-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit breaker state changed")
			if o.onBreakerChange != nil {
				o.onBreakerChange(from, to)
			}
		},
	}

	return &OpenAIClient{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		organization: cfg.Organization,
		model:        model,
		timeout:      cfg.Timeout,
		breaker:      gobreaker.NewCircuitBreaker[Output](settings),
		log:          log,
	}
}

// countsAsHealthy keeps caller mistakes (4xx other than rate limiting) and
// abandoned requests from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode >= 400 && perr.StatusCode < 500 && perr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func (c *OpenAIClient) Generate(ctx context.Context, in Input) (Output, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.breaker.Execute(func() (Output, error) {
		return c.generate(ctx, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Output{}, &ProviderError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "image provider temporarily unavailable",
		}
	}
	return out, err
}

func (c *OpenAIClient) generate(ctx context.Context, in Input) (Output, error) {
	body, err := json.Marshal(c.buildRequest(in))
	if err != nil {
		return Output{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Output{}, &ProviderError{StatusCode: http.StatusGatewayTimeout, Message: "image provider timed out"}
		}
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return Output{}, fmt.Errorf("image request abandoned: %w", context.Canceled)
		}
		return Output{}, &ProviderError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("model", c.model).
		Msg("image provider responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Output{}, decodeProviderError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxSuccessBody))
	if err != nil {
		return Output{}, &ProviderError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("read response: %v", err)}
	}

	var parsed openAIImageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Output{}, &ProviderError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return c.normalize(parsed)
}

func (c *OpenAIClient) buildRequest(in Input) openAIImageRequest {
	req := openAIImageRequest{
		Model:  c.model,
		Prompt: in.Prompt,
		N:      1,
		Size:   c.normalizeSize(in.Size),
	}
	if strings.HasPrefix(c.model, "gpt-image") {
		if in.Transparent {
			req.Background = "transparent"
		}
	} else {
		req.ResponseFormat = "b64_json"
	}
	return req
}

// normalizeSize maps a square artboard onto a size the model accepts.
func (c *OpenAIClient) normalizeSize(size int) string {
	if c.model == "dall-e-2" {
		switch size {
		case 256, 512, 1024:
			return fmt.Sprintf("%dx%d", size, size)
		}
	}
	return defaultSize
}

func (c *OpenAIClient) normalize(parsed openAIImageResponse) (Output, error) {
	for _, item := range parsed.Data {
		if item.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return Output{}, &ProviderError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("decode image data: %v", err)}
			}
			format := sniffer.DetectOr(data, sniffer.PNG)
			return Output{
				Ref:           models.InlineRef(format.MIME, data),
				RevisedPrompt: item.RevisedPrompt,
				Model:         c.model,
			}, nil
		}
		if item.URL != "" {
			return Output{
				Ref:           models.RemoteRef(item.URL),
				RevisedPrompt: item.RevisedPrompt,
				Model:         c.model,
			}, nil
		}
	}
	return Output{}, ErrEmptyResponse
}

func decodeProviderError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var parsed openAIImageResponse
	message := ""
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: message}
}
