// Package rag implements retrieval and answer generation: a text
// engine over the documents collection and a multimodal engine that
// fuses both collections and talks to a vision LLM.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

// Retriever embeds a query and runs KNN search over the documents
// collection.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
}

func NewRetriever(embedder domain.Embedder, store domain.VectorStore) (*Retriever, error) {
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("%w: retriever needs an embedder and a store", domain.ErrConfigInvalid)
	}
	return &Retriever{embedder: embedder, store: store}, nil
}

// Retrieve returns the topK most similar chunks, optionally narrowed
// by a metadata filter.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrQueryEmpty
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", domain.ErrRetrievalFailed, err)
	}

	hits, err := r.store.Search(ctx, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalFailed, err)
	}

	log.WithModule("rag").Debug("retrieved chunks", "query_len", len(query), "hits", len(hits))
	return hits, nil
}
