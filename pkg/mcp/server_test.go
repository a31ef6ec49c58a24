package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/mrag/pkg/chunker"
	"github.com/liliang-cn/mrag/pkg/config"
	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/imageproc"
	"github.com/liliang-cn/mrag/pkg/processor"
	"github.com/liliang-cn/mrag/pkg/services"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1}, nil
}

func (stubEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1}
	}
	return out, nil
}

type stubCaptioner struct{}

func (stubCaptioner) Caption(ctx context.Context, imagePath, prompt string, maxTokens int) (string, error) {
	return "caption", nil
}

func (stubCaptioner) EmbedImage(ctx context.Context, imagePath string) ([]float64, error) {
	return []float64{0.2}, nil
}

type fakeStore struct {
	docs   map[string]*domain.DocumentInfo
	images map[string]*domain.ImageDoc
	hits   []domain.SearchHit
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   map[string]*domain.DocumentInfo{},
		images: map[string]*domain.ImageDoc{},
	}
}

func (f *fakeStore) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	return nil
}

func (f *fakeStore) UpsertImages(ctx context.Context, images []domain.ImageDoc, vectors [][]float64) error {
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeStore) SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeStore) SearchMultimodal(ctx context.Context, vector []float64, topK int, textWeight, imageWeight float64) ([]domain.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeStore) Delete(ctx context.Context, req domain.DeleteRequest) (int, error) {
	if doc, ok := f.docs[req.DocumentID]; ok {
		delete(f.docs, req.DocumentID)
		return doc.ChunkCount, nil
	}
	return 0, nil
}

func (f *fakeStore) RemoveImage(ctx context.Context, imageID string) (bool, error) {
	_, ok := f.images[imageID]
	delete(f.images, imageID)
	return ok, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, limit int) ([]domain.DocumentInfo, error) {
	var out []domain.DocumentInfo
	for _, doc := range f.docs {
		out = append(out, *doc)
	}
	return out, nil
}

func (f *fakeStore) ListImages(ctx context.Context, limit int) ([]domain.ImageDoc, error) {
	var out []domain.ImageDoc
	for _, img := range f.images {
		out = append(out, *img)
	}
	return out, nil
}

func (f *fakeStore) GetDocumentByID(ctx context.Context, documentID string) (*domain.DocumentInfo, error) {
	return f.docs[documentID], nil
}

func (f *fakeStore) GetImageByID(ctx context.Context, imageID string) (*domain.ImageDoc, error) {
	return f.images[imageID], nil
}

func (f *fakeStore) Clear(ctx context.Context) error { return nil }

func (f *fakeStore) Count(ctx context.Context, collection string) (int, error) { return 0, nil }

func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, store *fakeStore) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	ch, err := chunker.New(200, 40)
	require.NoError(t, err)
	proc, err := processor.New(ch)
	require.NoError(t, err)
	images, err := imageproc.New(stubCaptioner{}, 10, true)
	require.NoError(t, err)

	docs, err := services.NewDocumentService(cfg, store, stubEmbedder{}, stubCaptioner{}, proc, images)
	require.NoError(t, err)
	return NewServer("0.0.0-test", docs)
}

func toolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestHandleAddDocument(t *testing.T) {
	s := newTestServer(t, newFakeStore())

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("content for the index"), 0o644))

	res, err := s.handleAddDocument(context.Background(),
		toolRequest("add_document", map[string]interface{}{"file_path": path}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "document", payload["item_type"])
}

func TestHandleAddDocument_Directory(t *testing.T) {
	s := newTestServer(t, newFakeStore())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("text"), 0o644))

	res, err := s.handleAddDocument(context.Background(),
		toolRequest("add_document", map[string]interface{}{"file_path": dir}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	added, ok := payload["added"].([]interface{})
	require.True(t, ok)
	assert.Len(t, added, 1)
}

func TestHandleAddDocument_MissingParam(t *testing.T) {
	s := newTestServer(t, newFakeStore())

	res, err := s.handleAddDocument(context.Background(),
		toolRequest("add_document", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleAddDocument_Tags(t *testing.T) {
	s := newTestServer(t, newFakeStore())

	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o644))

	res, err := s.handleAddDocument(context.Background(),
		toolRequest("add_document", map[string]interface{}{
			"file_path": path,
			"caption":   "猫の写真",
			"tags":      []interface{}{"pet", "cat"},
		}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "image", payload["item_type"])
	assert.Equal(t, "猫の写真", payload["caption"])
}

func TestHandleListDocuments(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &domain.DocumentInfo{DocumentID: "d1", DocumentName: "a.txt", ChunkCount: 1}
	store.images["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	s := newTestServer(t, store)

	res, err := s.handleListDocuments(context.Background(),
		toolRequest("list_documents", map[string]interface{}{}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, float64(2), payload["total_count"])

	res, err = s.handleListDocuments(context.Background(),
		toolRequest("list_documents", map[string]interface{}{"include_images": false}))
	require.NoError(t, err)
	payload = resultJSON(t, res)
	assert.Equal(t, float64(1), payload["total_count"])
}

func TestHandleSearch(t *testing.T) {
	store := newFakeStore()
	store.hits = []domain.SearchHit{{Score: 0.8, ResultType: domain.ResultTypeText}}
	s := newTestServer(t, store)

	res, err := s.handleSearch(context.Background(),
		toolRequest("search", map[string]interface{}{"query": "python", "top_k": float64(3)}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(1), payload["count"])
}

func TestHandleSearch_EmptyQueryIsDomainFailure(t *testing.T) {
	s := newTestServer(t, newFakeStore())

	res, err := s.handleSearch(context.Background(),
		toolRequest("search", map[string]interface{}{"query": "  "}))
	require.NoError(t, err)

	// Domain failures ride inside the payload, not the protocol error.
	payload := resultJSON(t, res)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, "QueryEmpty", payload["error"])
}

func TestHandleRemoveDocument(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &domain.DocumentInfo{DocumentID: "d1", DocumentName: "a.txt", ChunkCount: 2}
	s := newTestServer(t, store)

	res, err := s.handleRemoveDocument(context.Background(),
		toolRequest("remove_document", map[string]interface{}{"item_id": "d1"}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "document", payload["item_type"])

	res, err = s.handleRemoveDocument(context.Background(),
		toolRequest("remove_document", map[string]interface{}{"item_id": "d1"}))
	require.NoError(t, err)
	payload = resultJSON(t, res)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, "NotFound", payload["error"])
}

func TestHandleClearDocuments(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &domain.DocumentInfo{DocumentID: "d1", ChunkCount: 2}
	store.images["i1"] = &domain.ImageDoc{ID: "i1"}
	s := newTestServer(t, store)

	res, err := s.handleClearDocuments(context.Background(),
		toolRequest("clear_documents", map[string]interface{}{"clear_images": false}))
	require.NoError(t, err)

	payload := resultJSON(t, res)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(1), payload["deleted_text_count"])
	assert.Equal(t, float64(0), payload["deleted_image_count"])
}

func TestReadDocumentsList(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &domain.DocumentInfo{DocumentID: "d1", DocumentName: "a.txt"}
	s := newTestServer(t, store)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = documentsListURI

	contents, err := s.readDocumentsList(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, documentsListURI, text.URI)
	assert.Contains(t, text.Text, "a.txt")
}

func TestReadDocumentByID(t *testing.T) {
	store := newFakeStore()
	store.images["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	s := newTestServer(t, store)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = documentURIBase + "i1"

	contents, err := s.readDocumentByID(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, "cat.jpg")

	req.Params.URI = "resource://other/thing"
	_, err = s.readDocumentByID(context.Background(), req)
	assert.Error(t, err)
}

func TestReadDocumentByID_InlinesImageData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.jpg")
	payload := []byte("jpeg bytes")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	store := newFakeStore()
	store.images["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg", Path: path}
	s := newTestServer(t, store)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = documentURIBase + "i1"

	contents, err := s.readDocumentByID(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)

	var payloadJSON map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payloadJSON))
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), payloadJSON["data_base64"])
	assert.Equal(t, "image", payloadJSON["item_type"])
}

func TestStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringSlice([]interface{}{"a", 1, "b"}))
	assert.Nil(t, stringSlice("not a slice"))
	assert.Nil(t, stringSlice(nil))
}
