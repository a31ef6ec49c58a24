package store

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/mrag/pkg/config"
	"github.com/liliang-cn/mrag/pkg/domain"
)

// New builds the configured backend. The chroma type name maps to the
// embedded store so existing configs keep working; dimensions come
// from a probe embedding so the collections always match the embedder.
func New(cfg *config.Config, dimensions int) (domain.VectorStore, error) {
	switch strings.ToLower(cfg.VectorDB.Type) {
	case "chroma", "sqvect", "sqlite":
		return NewSqvectStore(cfg.VectorDB.PersistDir, dimensions)
	case "qdrant":
		return NewQdrantStore(cfg.QdrantAddr(), dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown vector store type %q", domain.ErrConfigInvalid, cfg.VectorDB.Type)
	}
}
