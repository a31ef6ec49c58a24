// Package vision implements caption-then-embed image vectors.
//
// An "image embedding" here is the text embedding of a caption the
// vision LLM produced for the image. Captions and document chunks
// therefore share one embedding space, which is what lets a plain text
// query retrieve images. Changing this silently would break cross-modal
// search.
package vision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

const (
	// DefaultCaptionPrompt asks for a short description for display.
	DefaultCaptionPrompt = "この画像について簡潔に説明してください。"

	// embedCaptionPrompt asks for a detailed structured description so
	// the resulting embedding carries as much of the image as possible.
	embedCaptionPrompt = "この画像について、以下の観点から詳しく説明してください:\n" +
		"1. 何が写っているか（オブジェクト、人物、場所など）\n" +
		"2. 色、形、テクスチャなどの視覚的特徴\n" +
		"3. 画像の雰囲気や文脈\n" +
		"4. テキストが含まれている場合はその内容\n" +
		"簡潔かつ具体的に記述してください。"

	defaultCaptionTokens = 200
	embedCaptionTokens   = 500
)

type Service struct {
	generator domain.Generator
	embedder  domain.Embedder
	model     string
}

func New(generator domain.Generator, embedder domain.Embedder, visionModel string) (*Service, error) {
	if generator == nil || embedder == nil {
		return nil, fmt.Errorf("%w: nil generator or embedder", domain.ErrConfigInvalid)
	}
	if visionModel == "" {
		return nil, fmt.Errorf("%w: empty vision model", domain.ErrConfigInvalid)
	}
	return &Service{generator: generator, embedder: embedder, model: visionModel}, nil
}

// Caption describes an image with the vision LLM. An empty prompt uses
// DefaultCaptionPrompt; maxTokens <= 0 uses the default budget.
func (s *Service) Caption(ctx context.Context, imagePath, prompt string, maxTokens int) (string, error) {
	if imagePath == "" {
		return "", fmt.Errorf("%w: empty image path", domain.ErrInvalidInput)
	}
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("%w: image not found: %s", domain.ErrImageInvalid, imagePath)
	}
	if prompt == "" {
		prompt = DefaultCaptionPrompt
	}
	if maxTokens <= 0 {
		maxTokens = defaultCaptionTokens
	}

	turn, err := domain.NewChatTurn(domain.RoleUser, prompt)
	if err != nil {
		return "", err
	}

	answer, err := s.generator.Chat(ctx, []domain.ChatTurn{turn}, []string{imagePath}, &domain.GenerationOptions{
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}

	caption := strings.TrimSpace(answer)
	if caption == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrCaptionEmpty, imagePath)
	}
	return caption, nil
}

// EmbedImage captions the image with the long structured prompt, then
// embeds that caption with the shared text embedder.
func (s *Service) EmbedImage(ctx context.Context, imagePath string) ([]float64, error) {
	caption, err := s.Caption(ctx, imagePath, embedCaptionPrompt, embedCaptionTokens)
	if err != nil {
		return nil, err
	}

	log.WithModule("vision").Debug("embedding image caption", "path", imagePath, "caption_len", len(caption))
	return s.embedder.EmbedQuery(ctx, caption)
}

// VerifyModel checks the configured vision model is installed, matching
// on the full tagged name or the base name before ":".
func (s *Service) VerifyModel(ctx context.Context) error {
	models, err := s.generator.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: cannot reach model backend: %v", domain.ErrVisionModelMissing, err)
	}
	if !ModelInstalled(s.model, models) {
		return fmt.Errorf("%w: %s (run: ollama pull %s)", domain.ErrVisionModelMissing, s.model, s.model)
	}
	return nil
}

// ModelInstalled reports whether want matches any installed model name,
// comparing both full tagged names and base names before ":".
func ModelInstalled(want string, installed []string) bool {
	wantBase := strings.SplitN(want, ":", 2)[0]
	for _, name := range installed {
		if name == want {
			return true
		}
		if strings.SplitN(name, ":", 2)[0] == wantBase {
			return true
		}
	}
	return false
}
