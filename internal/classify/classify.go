// Package classify assigns categories to items.
//
// The classifier is a black box to the rest of the engine: it returns a
// label with its own confidence, and downstream code treats that as
// advisory evidence only — a classification never moves a preference
// weight by more than a correction-sized step.
package classify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Label is a classification result.
type Label struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Input is the text the classifier sees.
type Input struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Classifier labels items with a category.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Label, error)

	// Available reports whether the provider can actually classify;
	// the noop provider returns false.
	Available() bool
}

// Config selects and configures the classifier provider.
type Config struct {
	// Provider is "llm", "heuristic", or "noop".
	Provider string `koanf:"provider" json:"provider"`

	// BaseURL, Model, and APIKey configure the llm provider. BaseURL
	// may point at any OpenAI-compatible endpoint.
	BaseURL string `koanf:"base_url" json:"base_url"`
	Model   string `koanf:"model" json:"model"`
	APIKey  string `koanf:"api_key" json:"-"`

	// Timeout bounds one classification call. Default 30s.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`

	// RequestsPerMinute and Burst throttle the llm provider.
	RequestsPerMinute float64 `koanf:"requests_per_minute" json:"requests_per_minute"`
	Burst             int     `koanf:"burst" json:"burst"`

	// MaxRetries bounds retry attempts after the first try. Default 3.
	MaxRetries int `koanf:"max_retries" json:"max_retries"`
}

// NewDefaultConfig returns the heuristic provider; classification works
// out of the box without an API key.
func NewDefaultConfig() Config {
	return Config{
		Provider:          "heuristic",
		Timeout:           30 * time.Second,
		RequestsPerMinute: 50,
		Burst:             5,
		MaxRetries:        3,
	}
}

// New builds the configured provider.
func New(cfg Config, logger *zap.Logger) (Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "llm":
		return newLLMClassifier(cfg, logger)
	case "heuristic":
		return newHeuristicClassifier(), nil
	case "noop", "":
		return &noopClassifier{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}

// noopClassifier classifies nothing.
type noopClassifier struct{}

func (n *noopClassifier) Classify(context.Context, Input) (Label, error) {
	return Label{}, nil
}

func (n *noopClassifier) Available() bool { return false }
