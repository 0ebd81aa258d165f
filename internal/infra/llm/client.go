// Package llm streams chat completions from an OpenAI-compatible endpoint
// (OpenAI, OpenRouter, or any server speaking the same SSE protocol).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("llm")

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"

	maxLineBytes = 1 << 20
	doneMarker   = "[DONE]"
)

// Client opens streaming completions. It implements port.TextStreamer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a Client. The http.Client should not set a total
// timeout shorter than the longest expected stream; the caller's context
// bounds each call instead.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream opens the completion and returns a channel of text fragments.
// Opening is retried and guarded by the circuit breaker; once the stream is
// open, failures arrive as a final chunk with Err set.
func (c *Client) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	ctx, span := tracer.Start(ctx, "Client.Stream")
	span.SetAttributes(attribute.String("llm.model", req.Model))

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Stream: true,
	})
	if err != nil {
		span.End()
		return nil, err
	}

	result, err := c.cb.Execute(func() (any, error) {
		var resp *http.Response
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			r, err := c.open(ctx, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		span.End()
		if resilience.IsOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "llm"}
		}
		return nil, &domain.ErrExternalService{Service: "llm", Err: err}
	}

	out := make(chan domain.StreamChunk)
	go func() {
		defer span.End()
		defer close(out)
		c.pump(ctx, result.(*http.Response), out)
	}()
	return out, nil
}

func (c *Client) open(ctx context.Context, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	err = fmt.Errorf("llm API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return nil, resilience.Permanent(err)
	}
	return nil, err
}

// pump reads SSE lines until [DONE], EOF or cancellation.
func (c *Client) pump(ctx context.Context, resp *http.Response, out chan<- domain.StreamChunk) {
	defer resp.Body.Close()

	send := func(ch domain.StreamChunk) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // comments, event names, keep-alives
		}
		data = strings.TrimSpace(data)
		if data == doneMarker {
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream frame", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			send(domain.StreamChunk{Err: fmt.Errorf("llm stream error: %s", chunk.Error.Message)})
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !send(domain.StreamChunk{Text: choice.Delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		send(domain.StreamChunk{Err: err})
	}
}
