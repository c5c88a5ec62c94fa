package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/littlehero/api/internal/config"
)

// ErrPermanent marks collaborator failures that retrying cannot fix, such as
// a rejected prompt or an undecodable reference photo.
var ErrPermanent = errors.New("permanent collaborator failure")

// IllustrationGenerator renders one page from a prompt and the child's
// reference photo. Implementations return PNG bytes.
type IllustrationGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string, reference []byte) ([]byte, error)
}

// Illustration provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderSynthetic = "synthetic"
)

// NewIllustrationGenerator returns the configured provider. OpenAI without
// an API key falls back to the synthetic compositor, like the other
// external clients do when unconfigured.
func NewIllustrationGenerator(cfg config.IllustrationConfig) (IllustrationGenerator, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return NewSyntheticIllustrator(cfg.Size), nil
		}
		return NewOpenAIIllustrator(OpenAIIllustratorConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Size:    cfg.Size,
		}), nil
	case ProviderSynthetic, "":
		return NewSyntheticIllustrator(cfg.Size), nil
	default:
		return nil, fmt.Errorf("unknown illustration provider %q", cfg.Provider)
	}
}

// referenceContentType sniffs the photo type for upload to a provider.
func referenceContentType(data []byte) (string, string) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return ct, "reference.png"
	case "image/jpeg":
		return ct, "reference.jpg"
	case "image/webp":
		return ct, "reference.webp"
	default:
		return "image/png", "reference.png"
	}
}
