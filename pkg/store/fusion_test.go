package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/mrag/pkg/domain"
)

type fakeSearcher struct {
	textHits  []domain.SearchHit
	imageHits []domain.SearchHit
	textErr   error
	imageErr  error
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return f.textHits, f.textErr
}

func (f *fakeSearcher) SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return f.imageHits, f.imageErr
}

func textHit(id string, score float64) domain.SearchHit {
	return domain.SearchHit{
		Chunk:      domain.Chunk{ID: id, Content: "text " + id},
		Score:      score,
		ResultType: domain.ResultTypeText,
	}
}

func imageHit(id string, score float64) domain.SearchHit {
	return domain.SearchHit{
		Chunk:      domain.Chunk{ID: id, Content: "caption " + id},
		Score:      score,
		ResultType: domain.ResultTypeImage,
		ImagePath:  "/img/" + id + ".png",
	}
}

func TestSearchMultimodal_MergesAndRanks(t *testing.T) {
	f := &fakeSearcher{
		textHits:  []domain.SearchHit{textHit("t1", 0.8), textHit("t2", 0.4)},
		imageHits: []domain.SearchHit{imageHit("i1", 0.9)},
	}

	hits, err := searchMultimodal(context.Background(), f, []float64{0.1}, 10, 0.5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// 0.9*0.5 > 0.8*0.5 > 0.4*0.5
	assert.Equal(t, "i1", hits[0].Chunk.ID)
	assert.Equal(t, "t1", hits[1].Chunk.ID)
	assert.Equal(t, "t2", hits[2].Chunk.ID)
	assert.Equal(t, []int{1, 2, 3}, []int{hits[0].Rank, hits[1].Rank, hits[2].Rank})
	assert.InDelta(t, 0.45, hits[0].Score, 1e-9)
}

func TestSearchMultimodal_WeightExtremes(t *testing.T) {
	f := &fakeSearcher{
		textHits:  []domain.SearchHit{textHit("t1", 0.3)},
		imageHits: []domain.SearchHit{imageHit("i1", 0.9)},
	}

	hits, err := searchMultimodal(context.Background(), f, []float64{0.1}, 10, 1.0, 0.0)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Zero weight pins image results to the bottom with score 0.
	assert.Equal(t, "t1", hits[0].Chunk.ID)
	assert.Equal(t, 0.0, hits[1].Score)
}

func TestSearchMultimodal_TopKTruncation(t *testing.T) {
	f := &fakeSearcher{
		textHits:  []domain.SearchHit{textHit("t1", 0.9), textHit("t2", 0.8)},
		imageHits: []domain.SearchHit{imageHit("i1", 0.7), imageHit("i2", 0.6)},
	}

	hits, err := searchMultimodal(context.Background(), f, []float64{0.1}, 2, 1.0, 1.0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "t1", hits[0].Chunk.ID)
}

func TestSearchMultimodal_DegradesOnOneFailure(t *testing.T) {
	f := &fakeSearcher{
		textErr:   errors.New("text side down"),
		imageHits: []domain.SearchHit{imageHit("i1", 0.9)},
	}

	hits, err := searchMultimodal(context.Background(), f, []float64{0.1}, 5, 0.5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "i1", hits[0].Chunk.ID)
}

func TestSearchMultimodal_BothFail(t *testing.T) {
	f := &fakeSearcher{
		textErr:  errors.New("text side down"),
		imageErr: errors.New("image side down"),
	}

	_, err := searchMultimodal(context.Background(), f, []float64{0.1}, 5, 0.5, 0.5)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
}

func TestSearchMultimodal_EmptyVector(t *testing.T) {
	f := &fakeSearcher{}
	_, err := searchMultimodal(context.Background(), f, nil, 5, 0.5, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
