package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// Generator is the text generation backend: one prompt in, text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

var ErrNoAPIKey = errors.New("generation backend: API key not configured")

// Gemini generates text through the Gemini API.
type Gemini struct {
	Model string

	client *genai.Client
	err    error
}

// NewGemini builds a client for model. endpoint may carry an API version as
// its last path segment ("https://host/v1beta"); an empty endpoint uses the
// SDK default. A missing key is reported by every call, not here.
func NewGemini(apiKey, model, endpoint string) *Gemini {
	g := &Gemini{Model: model}
	if apiKey == "" {
		g.err = ErrNoAPIKey
		return g
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
	}
	if endpoint != "" {
		base, version := splitEndpoint(endpoint)
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base, APIVersion: version}
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		log.Printf("[generate] gemini client: %v", err)
		g.err = fmt.Errorf("gemini: new client: %w", err)
		return g
	}
	g.client = client
	return g
}

var apiVersion = regexp.MustCompile(`^v\d+[a-z0-9]*$`)

// splitEndpoint separates a trailing API version segment from the base URL.
func splitEndpoint(endpoint string) (base, version string) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint, ""
	}
	last := path.Base(u.Path)
	if !apiVersion.MatchString(last) {
		return endpoint, ""
	}
	u.Path = strings.TrimSuffix(path.Dir(u.Path), "/")
	return u.String(), last
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", describe(ctx, err)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", fb.BlockReason)
	}
	return resp.Text(), nil
}

// Health fetches the model's metadata, which needs a valid key but spends
// no quota.
func (g *Gemini) Health(ctx context.Context) error {
	if g.err != nil {
		return g.err
	}
	if _, err := g.client.Models.Get(ctx, g.Model, nil); err != nil {
		return fmt.Errorf("gemini: health: %w", describe(ctx, err))
	}
	return nil
}

// describe keeps the caller's context error visible to errors.Is and shortens
// API errors to the status and message.
func describe(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("gemini: %w", ctxErr)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: status %d: %s", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("gemini: %w", err)
}
