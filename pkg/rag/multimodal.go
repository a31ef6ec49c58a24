package rag

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
	"github.com/liliang-cn/mrag/pkg/vision"
)

const multimodalClosing = "\n上記のコンテキスト情報と画像に基づいて質問に答えてください。\n\n回答:"

// MultimodalEngine retrieves over both collections and answers with a
// vision-capable LLM that receives the retrieved image files.
type MultimodalEngine struct {
	embedder    domain.Embedder
	store       domain.VectorStore
	generator   domain.Generator
	model       string
	history     *domain.ChatLog
	textWeight  float64
	imageWeight float64
}

// NewMultimodalEngine verifies the vision model is installed before
// returning an engine.
func NewMultimodalEngine(ctx context.Context, embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, model string, maxHistory int, textWeight, imageWeight float64) (*MultimodalEngine, error) {
	if embedder == nil || store == nil || generator == nil {
		return nil, fmt.Errorf("%w: multimodal engine needs embedder, store and generator", domain.ErrConfigInvalid)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: multimodal model not configured", domain.ErrConfigInvalid)
	}

	installed, err := generator.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list models: %v", domain.ErrVisionModelMissing, err)
	}
	if !vision.ModelInstalled(model, installed) {
		return nil, fmt.Errorf("%w: %s (run: ollama pull %s)", domain.ErrVisionModelMissing, model, model)
	}

	return &MultimodalEngine{
		embedder:    embedder,
		store:       store,
		generator:   generator,
		model:       model,
		history:     domain.NewChatLog(maxHistory),
		textWeight:  textWeight,
		imageWeight: imageWeight,
	}, nil
}

// SearchImages finds images whose captions are semantically close to
// the text query.
func (e *MultimodalEngine) SearchImages(ctx context.Context, query string, topK int) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrQueryEmpty
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", domain.ErrRetrievalFailed, err)
	}

	hits, err := e.store.SearchImages(ctx, vector, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalFailed, err)
	}
	return hits, nil
}

// SearchMultimodal fuses both collections with the configured weights.
func (e *MultimodalEngine) SearchMultimodal(ctx context.Context, query string, topK int) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrQueryEmpty
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", domain.ErrRetrievalFailed, err)
	}

	hits, err := e.store.SearchMultimodal(ctx, vector, topK, e.textWeight, e.imageWeight)
	if err != nil {
		return nil, err
	}

	log.WithModule("rag").Info("multimodal search complete",
		"hits", len(hits), "text_weight", e.textWeight, "image_weight", e.imageWeight)
	return hits, nil
}

// QueryWithImages answers a question using fused retrieval plus any
// caller-supplied image files, without touching the chat log.
func (e *MultimodalEngine) QueryWithImages(ctx context.Context, query string, imagePaths []string, topK int) (*Answer, error) {
	return e.queryWithImages(ctx, query, imagePaths, topK, nil)
}

func (e *MultimodalEngine) queryWithImages(ctx context.Context, query string, imagePaths []string, topK int, history []domain.ChatTurn) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrQuestionEmpty
	}

	hits, err := e.SearchMultimodal(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	contextText, contextImages := e.buildMultimodalContext(hits)
	allImages := append(e.existingPaths(imagePaths), contextImages...)

	var parts []string
	if len(history) > 0 {
		parts = append(parts, "過去の会話:")
		for _, turn := range history {
			parts = append(parts, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
		}
		parts = append(parts, "")
	}
	parts = append(parts,
		fmt.Sprintf("コンテキスト情報:\n%s", contextText),
		fmt.Sprintf("\n質問: %s", query),
		multimodalClosing,
	)
	prompt := strings.Join(parts, "\n")

	userTurn, err := domain.NewChatTurn(domain.RoleUser, prompt)
	if err != nil {
		return nil, err
	}

	answer, err := e.generator.Chat(ctx, []domain.ChatTurn{userTurn}, allImages, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: empty response from model", domain.ErrGenerationFailed)
	}

	log.WithModule("rag").Info("generated multimodal answer",
		"context_count", len(hits), "images_used", len(allImages))
	return &Answer{
		Answer:       answer,
		ContextCount: len(hits),
		ImagesUsed:   len(allImages),
		Sources:      collectSources(hits, true),
	}, nil
}

// buildMultimodalContext renders fused hits with modality markers and
// collects on-disk image paths for the vision call.
func (e *MultimodalEngine) buildMultimodalContext(hits []domain.SearchHit) (string, []string) {
	if len(hits) == 0 {
		return noContextText, nil
	}

	var parts []string
	var images []string
	for i, hit := range hits {
		switch hit.ResultType {
		case domain.ResultTypeImage:
			caption := hit.Caption
			if caption == "" {
				caption = "N/A"
			}
			parts = append(parts, fmt.Sprintf("[画像 %d] %s\n説明: %s\n", i+1, hit.DocumentName, caption))
			if hit.ImagePath != "" {
				if _, err := os.Stat(hit.ImagePath); err == nil {
					images = append(images, hit.ImagePath)
				} else {
					log.WithModule("rag").Warn("retrieved image missing on disk", "path", hit.ImagePath)
				}
			}
		default:
			parts = append(parts, fmt.Sprintf("[テキスト %d] %s\n%s\n", i+1, hit.DocumentName, hit.Chunk.Content))
		}
	}
	return strings.Join(parts, "\n"), images
}

// existingPaths keeps only paths that point at real files; missing
// ones are logged and dropped.
func (e *MultimodalEngine) existingPaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		} else {
			log.WithModule("rag").Warn("image file not found", "path", p)
		}
	}
	return out
}

// ChatMultimodal runs one conversational turn with optional attached
// images. The user turn enters history before retrieval; the assistant
// turn is recorded only on success.
func (e *MultimodalEngine) ChatMultimodal(ctx context.Context, message string, imagePaths []string, topK int) (*Answer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, domain.ErrQuestionEmpty
	}

	userTurn, err := domain.NewChatTurn(domain.RoleUser, message)
	if err != nil {
		return nil, err
	}
	if len(imagePaths) > 0 {
		userTurn.Metadata = map[string]interface{}{"image_paths": imagePaths}
	}
	e.history.Append(userTurn)

	turns := e.history.Turns()
	result, err := e.queryWithImages(ctx, message, imagePaths, topK, turns[:len(turns)-1])
	if err != nil {
		return nil, err
	}

	assistantTurn, err := domain.NewChatTurn(domain.RoleAssistant, result.Answer)
	if err != nil {
		return nil, err
	}
	assistantTurn.Metadata = map[string]interface{}{
		"context_count": result.ContextCount,
		"images_used":   result.ImagesUsed,
	}
	e.history.Append(assistantTurn)

	result.HistoryLength = e.history.Len()
	return result, nil
}

// History returns a copy of the retained chat turns.
func (e *MultimodalEngine) History() []domain.ChatTurn {
	return e.history.Turns()
}

func (e *MultimodalEngine) ClearHistory() {
	e.history.Clear()
}

// Model reports the vision LLM in use.
func (e *MultimodalEngine) Model() string {
	return e.model
}
