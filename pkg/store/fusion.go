package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

// searcher is the slice of the store API fusion needs.
type searcher interface {
	Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error)
	SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error)
}

// searchMultimodal queries both collections concurrently, scales each
// side by its modality weight, and merges into a single top-k ranking.
// Weights are applied as given; callers choose whether they sum to 1.
// One failed side degrades to the other; both failing is an error.
func searchMultimodal(ctx context.Context, s searcher, vector []float64, topK int, textWeight, imageWeight float64) ([]domain.SearchHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	var textHits, imageHits []domain.SearchHit
	var textErr, imageErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textHits, textErr = s.Search(gctx, vector, topK, nil)
		return nil
	})
	g.Go(func() error {
		imageHits, imageErr = s.SearchImages(gctx, vector, topK, nil)
		return nil
	})
	g.Wait()

	logger := log.WithModule("store")
	if textErr != nil && imageErr != nil {
		return nil, fmt.Errorf("%w: text: %v; images: %v", domain.ErrRetrievalFailed, textErr, imageErr)
	}
	if textErr != nil {
		logger.Warn("text search failed, returning image results only", "error", textErr)
	}
	if imageErr != nil {
		logger.Warn("image search failed, returning text results only", "error", imageErr)
	}

	merged := make([]domain.SearchHit, 0, len(textHits)+len(imageHits))
	for _, h := range textHits {
		h.Score = clampScore(h.Score * textWeight)
		merged = append(merged, h)
	}
	for _, h := range imageHits {
		h.Score = clampScore(h.Score * imageWeight)
		merged = append(merged, h)
	}

	merged = assignRanks(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}
