package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const classifyPrompt = `Classify the task below into exactly one category:
work, health, finance, errand, learning, personal.

Task title: %s
Task notes: %s

Respond with JSON only: {"value": "<category>", "confidence": <0..1>}`

// llmClassifier calls an OpenAI-compatible model through langchaingo.
type llmClassifier struct {
	llm        *openai.LLM
	limiter    *rate.Limiter
	logger     *zap.Logger
	timeout    time.Duration
	maxRetries int
}

func newLLMClassifier(cfg Config, logger *zap.Logger) (*llmClassifier, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless local endpoints.
		apiKey = "placeholder"
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &llmClassifier{
		llm:        llm,
		limiter:    rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		logger:     logger,
		timeout:    timeout,
		maxRetries: maxRetries,
	}, nil
}

func (l *llmClassifier) Classify(ctx context.Context, in Input) (Label, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Label{}, fmt.Errorf("rate limiter: %w", err)
	}

	prompt := fmt.Sprintf(classifyPrompt, in.Title, in.Description)

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		resp, err := llms.GenerateFromSinglePrompt(callCtx, l.llm, prompt)
		cancel()
		if err == nil {
			label, perr := parseLabel(resp)
			if perr == nil {
				return label, nil
			}
			err = perr
		}
		lastErr = err

		if attempt == l.maxRetries {
			break
		}
		l.logger.Warn("classification attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return Label{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return Label{}, fmt.Errorf("classification failed after %d attempts: %w", l.maxRetries+1, lastErr)
}

func (l *llmClassifier) Available() bool { return true }

// parseLabel extracts the JSON object from a model response that may
// wrap it in prose or a code fence.
func parseLabel(resp string) (Label, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return Label{}, fmt.Errorf("no JSON object in response")
	}

	var label Label
	if err := json.Unmarshal([]byte(resp[start:end+1]), &label); err != nil {
		return Label{}, fmt.Errorf("decode label: %w", err)
	}
	label.Value = strings.ToLower(strings.TrimSpace(label.Value))
	if label.Value == "" {
		return Label{}, fmt.Errorf("empty label value")
	}
	if label.Confidence < 0 {
		label.Confidence = 0
	}
	if label.Confidence > 1 {
		label.Confidence = 1
	}
	return label, nil
}
