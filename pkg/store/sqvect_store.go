package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/sqvect/v2/pkg/core"
	"github.com/liliang-cn/sqvect/v2/pkg/sqvect"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

// SqvectStore is the embedded backend. Both collections live in one
// SQLite file under the persist directory.
type SqvectStore struct {
	db     *sqvect.DB
	store  *core.SQLiteStore
	closed atomic.Bool
}

// NewSqvectStore opens (or creates) the embedded store and ensures the
// documents and images collections exist.
func NewSqvectStore(persistDir string, dimensions int) (*SqvectStore, error) {
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create persist directory %s: %v", domain.ErrConfigInvalid, persistDir, err)
	}

	db, err := sqvect.Open(sqvect.Config{
		Path:       filepath.Join(persistDir, "mrag.db"),
		Dimensions: dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqvect database: %w", err)
	}

	sqliteStore, ok := db.Vector().(*core.SQLiteStore)
	if !ok {
		db.Close()
		return nil, fmt.Errorf("unexpected vector store type from sqvect")
	}

	s := &SqvectStore{db: db, store: sqliteStore}

	ctx := context.Background()
	for _, name := range []string{domain.CollectionDocuments, domain.CollectionImages} {
		if err := s.ensureCollection(ctx, name, dimensions); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *SqvectStore) ensureCollection(ctx context.Context, name string, dimensions int) error {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range collections {
		if col.Name == name {
			return nil
		}
	}

	if _, err := s.store.CreateCollection(ctx, name, dimensions); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// ensureParentDoc creates the document row an embedding references.
// sqvect enforces the doc_id foreign key, so the row must exist before
// the batch upsert. An existing row is fine.
func (s *SqvectStore) ensureParentDoc(ctx context.Context, id, title string) error {
	now := time.Now()
	err := s.store.CreateDocument(ctx, &core.Document{
		ID:        id,
		Title:     title,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("failed to create document %s: %w", id, err)
	}
	return nil
}

func (s *SqvectStore) guard() error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	return nil
}

func (s *SqvectStore) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", domain.ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	embeddings := make([]*core.Embedding, 0, len(chunks))
	for i, chunk := range chunks {
		if !seen[chunk.DocumentID] {
			name, _ := chunk.Metadata["document_name"].(string)
			if err := s.ensureParentDoc(ctx, chunk.DocumentID, name); err != nil {
				return err
			}
			seen[chunk.DocumentID] = true
		}
		embeddings = append(embeddings, &core.Embedding{
			ID:         chunk.ID,
			Vector:     narrow(vectors[i]),
			Content:    chunk.Content,
			DocID:      chunk.DocumentID,
			Collection: domain.CollectionDocuments,
			Metadata:   flattenMetadata(chunk.Metadata),
		})
	}

	if err := s.store.UpsertBatch(ctx, embeddings); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *SqvectStore) UpsertImages(ctx context.Context, images []domain.ImageDoc, vectors [][]float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(images) != len(vectors) {
		return fmt.Errorf("%w: %d images, %d vectors", domain.ErrLengthMismatch, len(images), len(vectors))
	}
	if len(images) == 0 {
		return nil
	}

	embeddings := make([]*core.Embedding, 0, len(images))
	for i, img := range images {
		if err := s.ensureParentDoc(ctx, img.ID, img.FileName); err != nil {
			return err
		}
		embeddings = append(embeddings, &core.Embedding{
			ID:         img.ID,
			Vector:     narrow(vectors[i]),
			Content:    img.Caption,
			DocID:      img.ID,
			Collection: domain.CollectionImages,
			Metadata:   imageMetadata(img),
		})
	}

	if err := s.store.UpsertBatch(ctx, embeddings); err != nil {
		return fmt.Errorf("failed to upsert images: %w", err)
	}
	return nil
}

func (s *SqvectStore) searchCollection(ctx context.Context, collection string, vector []float64, topK int, filter map[string]interface{}) ([]core.ScoredEmbedding, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	results, err := s.store.SearchWithFilter(ctx, narrow(vector), core.SearchOptions{
		TopK:       topK,
		Threshold:  0.0,
		Collection: collection,
	}, filter)
	if err != nil {
		return nil, fmt.Errorf("search in %s failed: %w", collection, err)
	}
	return results, nil
}

func (s *SqvectStore) Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	results, err := s.searchCollection(ctx, domain.CollectionDocuments, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for _, r := range results {
		chunk := chunkFromStored(r.ID, r.DocID, r.Content, r.Metadata)
		hits = append(hits, hitFromChunk(chunk, r.Score))
	}
	return assignRanks(hits), nil
}

func (s *SqvectStore) SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	results, err := s.searchCollection(ctx, domain.CollectionImages, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hitFromImage(r.Metadata, r.Score))
	}
	return assignRanks(hits), nil
}

func (s *SqvectStore) SearchMultimodal(ctx context.Context, vector []float64, topK int, textWeight, imageWeight float64) ([]domain.SearchHit, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return searchMultimodal(ctx, s, vector, topK, textWeight, imageWeight)
}

// scanCollection loads every embedding stored in one collection. sqvect
// has no per-collection listing, so listing and counting walk the
// document index.
func (s *SqvectStore) scanCollection(ctx context.Context, collection string) ([]*core.Embedding, error) {
	docIDs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var out []*core.Embedding
	for _, docID := range docIDs {
		embeddings, err := s.store.GetByDocID(ctx, docID)
		if err != nil {
			log.WithModule("store").Warn("failed to load document embeddings", "doc_id", docID, "error", err)
			continue
		}
		for _, emb := range embeddings {
			if emb.Collection == collection {
				out = append(out, emb)
			}
		}
	}
	return out, nil
}

func (s *SqvectStore) Delete(ctx context.Context, req domain.DeleteRequest) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	if err := validateDeleteRequest(req); err != nil {
		return 0, err
	}

	before, err := s.Count(ctx, domain.CollectionDocuments)
	if err != nil {
		return 0, err
	}

	switch {
	case req.DocumentID != "":
		if err := s.store.DeleteByDocID(ctx, req.DocumentID); err != nil {
			return 0, fmt.Errorf("failed to delete document %s: %w", req.DocumentID, err)
		}
	case len(req.ChunkIDs) > 0:
		if err := s.store.DeleteBatch(ctx, req.ChunkIDs); err != nil {
			return 0, fmt.Errorf("failed to delete chunks: %w", err)
		}
	default:
		embeddings, err := s.scanCollection(ctx, domain.CollectionDocuments)
		if err != nil {
			return 0, err
		}
		var ids []string
		for _, emb := range embeddings {
			if matchesFilter(emb.Metadata, req.Where) {
				ids = append(ids, emb.ID)
			}
		}
		if len(ids) > 0 {
			if err := s.store.DeleteBatch(ctx, ids); err != nil {
				return 0, fmt.Errorf("failed to delete by filter: %w", err)
			}
		}
	}

	after, err := s.Count(ctx, domain.CollectionDocuments)
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

func (s *SqvectStore) RemoveImage(ctx context.Context, imageID string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if imageID == "" {
		return false, fmt.Errorf("%w: empty image ID", domain.ErrInvalidInput)
	}

	img, err := s.GetImageByID(ctx, imageID)
	if err != nil {
		return false, err
	}
	if img == nil {
		return false, nil
	}

	if err := s.store.DeleteByDocID(ctx, imageID); err != nil {
		return false, fmt.Errorf("failed to delete image %s: %w", imageID, err)
	}
	return true, nil
}

func (s *SqvectStore) ListDocuments(ctx context.Context, limit int) ([]domain.DocumentInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	embeddings, err := s.scanCollection(ctx, domain.CollectionDocuments)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.Chunk, 0, len(embeddings))
	for _, emb := range embeddings {
		chunks = append(chunks, chunkFromStored(emb.ID, emb.DocID, emb.Content, emb.Metadata))
	}
	return aggregateDocuments(chunks, limit), nil
}

func (s *SqvectStore) ListImages(ctx context.Context, limit int) ([]domain.ImageDoc, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	embeddings, err := s.scanCollection(ctx, domain.CollectionImages)
	if err != nil {
		return nil, err
	}

	images := make([]domain.ImageDoc, 0, len(embeddings))
	for _, emb := range embeddings {
		images = append(images, imageFromMetadata(emb.Metadata))
		if limit > 0 && len(images) >= limit {
			break
		}
	}
	return images, nil
}

func (s *SqvectStore) GetDocumentByID(ctx context.Context, documentID string) (*domain.DocumentInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	embeddings, err := s.store.GetByDocID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	chunks := make([]domain.Chunk, 0, len(embeddings))
	for _, emb := range embeddings {
		if emb.Collection != domain.CollectionDocuments {
			continue
		}
		chunks = append(chunks, chunkFromStored(emb.ID, emb.DocID, emb.Content, emb.Metadata))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	infos := aggregateDocuments(chunks, 1)
	return &infos[0], nil
}

func (s *SqvectStore) GetImageByID(ctx context.Context, imageID string) (*domain.ImageDoc, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	embeddings, err := s.store.GetByDocID(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", imageID, err)
	}
	for _, emb := range embeddings {
		if emb.Collection == domain.CollectionImages {
			img := imageFromMetadata(emb.Metadata)
			return &img, nil
		}
	}
	return nil, nil
}

func (s *SqvectStore) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	for _, name := range []string{domain.CollectionDocuments, domain.CollectionImages} {
		if err := s.ensureCollection(ctx, name, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqvectStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	embeddings, err := s.scanCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	return len(embeddings), nil
}

func (s *SqvectStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
