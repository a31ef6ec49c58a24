package domain

import "context"

// Embedder produces fixed-dimension vectors for queries and passages.
// All vectors from one instance have identical length.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedPassages(ctx context.Context, texts []string) ([][]float64, error)
}

// GenerationOptions tune a single LLM call.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}

// Generator invokes the LLM backend. ImagePaths on Chat carry files to
// a vision-capable model; plain text models receive none.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error)
	Chat(ctx context.Context, messages []ChatTurn, imagePaths []string, opts *GenerationOptions) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Captioner describes an image in natural language and embeds it via
// caption-then-embed.
type Captioner interface {
	Caption(ctx context.Context, imagePath, prompt string, maxTokens int) (string, error)
	EmbedImage(ctx context.Context, imagePath string) ([]float64, error)
}

// Chunker splits a document into overlapping chunks whose IDs are
// derived from the given document ID.
type Chunker interface {
	Split(doc *Document, documentID string) ([]Chunk, error)
}

// DeleteRequest selects chunks to remove. Exactly one predicate must be
// set; anything else fails with ErrMissingDeletePredicate.
type DeleteRequest struct {
	DocumentID string
	ChunkIDs   []string
	Where      map[string]interface{}
}

// VectorStore persists chunk and image vectors in the two named
// collections and serves KNN search over them. Implementations must be
// safe for concurrent reads; writes serialize inside the backend. After
// Close every operation returns ErrStoreClosed.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []Chunk, vectors [][]float64) error
	UpsertImages(ctx context.Context, images []ImageDoc, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]SearchHit, error)
	SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]SearchHit, error)
	Delete(ctx context.Context, req DeleteRequest) (int, error)
	RemoveImage(ctx context.Context, imageID string) (bool, error)
	ListDocuments(ctx context.Context, limit int) ([]DocumentInfo, error)
	ListImages(ctx context.Context, limit int) ([]ImageDoc, error)
	GetDocumentByID(ctx context.Context, documentID string) (*DocumentInfo, error)
	GetImageByID(ctx context.Context, imageID string) (*ImageDoc, error)
	SearchMultimodal(ctx context.Context, vector []float64, topK int, textWeight, imageWeight float64) ([]SearchHit, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}
