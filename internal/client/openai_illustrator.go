package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openAIDefaultImageModel = openai.ImageModelGPTImage1

// OpenAIIllustratorConfig holds configuration for the OpenAI image client.
type OpenAIIllustratorConfig struct {
	APIKey     string
	BaseURL    string // Optional (tests)
	Model      string // "gpt-image-1" (default), "dall-e-2"
	Size       string // "1024x1024" (default)
	MaxRetries int    // SDK transport retries; page retries happen in the worker
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIIllustrator edits the reference photo into a page illustration.
type OpenAIIllustrator struct {
	model  string
	size   string
	client openai.Client
}

func NewOpenAIIllustrator(cfg OpenAIIllustratorConfig) *OpenAIIllustrator {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultImageModel
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIIllustrator{
		model:  cfg.Model,
		size:   cfg.Size,
		client: openai.NewClient(opts...),
	}
}

func (c *OpenAIIllustrator) Name() string {
	return ProviderOpenAI
}

// Generate sends the prompt and reference photo to the image edit endpoint.
func (c *OpenAIIllustrator) Generate(ctx context.Context, prompt string, reference []byte) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required: %w", ErrPermanent)
	}
	if len(reference) == 0 {
		return nil, fmt.Errorf("reference photo is required: %w", ErrPermanent)
	}

	contentType, filename := referenceContentType(reference)
	params := openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(reference), filename, contentType),
		},
		Prompt: prompt,
		Model:  openai.ImageModel(c.model),
		Size:   openai.ImageEditParamsSize(c.size),
		N:      openai.Int(1),
	}
	if c.model == openai.ImageModelDallE2 {
		params.ResponseFormat = openai.ImageEditParamsResponseFormatB64JSON
	}

	resp, err := c.client.Images.Edit(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("openai returned no image data")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode openai image: %w", err)
	}
	return img, nil
}

// mapOpenAIError marks client errors other than throttling and timeouts as
// permanent.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode >= 500:
		return fmt.Errorf("openai image error (status %d): %s", apiErr.StatusCode, msg)
	default:
		return fmt.Errorf("openai image error (status %d): %s: %w", apiErr.StatusCode, msg, ErrPermanent)
	}
}

var _ IllustrationGenerator = (*OpenAIIllustrator)(nil)
