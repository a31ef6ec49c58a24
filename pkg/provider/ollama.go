// Package provider wraps the Ollama HTTP API behind the domain
// Embedder and Generator interfaces.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/liliang-cn/mrag/pkg/domain"
)

// newClient validates the base URL and builds the underlying client.
func newClient(baseURL string) (*api.Client, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: base URL must start with http:// or https://: %s", domain.ErrConfigInvalid, baseURL)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", domain.ErrConfigInvalid, err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// OllamaEmbedder produces text embeddings through the Ollama embed
// endpoint. Wire vectors are float32 and widened to float64 at this
// boundary.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: empty embedding model", domain.ErrConfigInvalid)
	}
	client, err := newClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrEmbeddingInput)
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", domain.ErrEmbeddingUnavailable)
	}

	return widen(resp.Embeddings[0]), nil
}

func (e *OllamaEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty passage list", domain.ErrEmbeddingInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty passage at index %d", domain.ErrEmbeddingInput, i)
		}
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d passages", domain.ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = widen(v)
	}
	return out, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// OllamaGenerator invokes chat and generate on a configured model.
// Image paths passed to Chat are read from disk and sent inline.
type OllamaGenerator struct {
	client *api.Client
	model  string
}

func NewOllamaGenerator(baseURL, model string) (*OllamaGenerator, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: empty LLM model", domain.ErrConfigInvalid)
	}
	client, err := newClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaGenerator{client: client, model: model}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: buildOptions(opts),
	}

	var sb strings.Builder
	err := g.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	return sb.String(), nil
}

func (g *OllamaGenerator) Chat(ctx context.Context, messages []domain.ChatTurn, imagePaths []string, opts *domain.GenerationOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: empty messages", domain.ErrInvalidInput)
	}

	apiMessages := make([]api.Message, 0, len(messages))
	for i, turn := range messages {
		msg := api.Message{Role: turn.Role, Content: turn.Content}
		// Images ride on the final message of the conversation.
		if i == len(messages)-1 && len(imagePaths) > 0 {
			images, err := readImages(imagePaths)
			if err != nil {
				return "", err
			}
			msg.Images = images
		}
		apiMessages = append(apiMessages, msg)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    g.model,
		Messages: apiMessages,
		Stream:   &stream,
		Options:  buildOptions(opts),
	}

	var sb strings.Builder
	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	return sb.String(), nil
}

func (g *OllamaGenerator) ListModels(ctx context.Context) ([]string, error) {
	resp, err := g.client.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to list models: %v", domain.ErrGenerationFailed, err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func buildOptions(opts *domain.GenerationOptions) map[string]interface{} {
	if opts == nil {
		return nil
	}
	options := map[string]interface{}{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

func readImages(paths []string) ([]api.ImageData, error) {
	images := make([]api.ImageData, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read image %s: %v", domain.ErrImageInvalid, p, err)
		}
		images = append(images, api.ImageData(data))
	}
	return images, nil
}
