package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/mrag/pkg/chunker"
	"github.com/liliang-cn/mrag/pkg/config"
	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/imageproc"
	"github.com/liliang-cn/mrag/pkg/processor"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func (stubEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2}
	}
	return out, nil
}

type stubCaptioner struct{}

func (stubCaptioner) Caption(ctx context.Context, imagePath, prompt string, maxTokens int) (string, error) {
	return "a stub caption", nil
}

func (stubCaptioner) EmbedImage(ctx context.Context, imagePath string) ([]float64, error) {
	return []float64{0.3, 0.4}, nil
}

// memStore records upserts and serves canned lookups.
type memStore struct {
	chunks    []domain.Chunk
	images    []domain.ImageDoc
	docInfos  map[string]*domain.DocumentInfo
	imageDocs map[string]*domain.ImageDoc
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{
		docInfos:  map[string]*domain.DocumentInfo{},
		imageDocs: map[string]*domain.ImageDoc{},
	}
}

func (m *memStore) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) UpsertImages(ctx context.Context, images []domain.ImageDoc, vectors [][]float64) error {
	m.images = append(m.images, images...)
	return nil
}

func (m *memStore) Search(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return []domain.SearchHit{{Score: 0.9, ResultType: domain.ResultTypeText}}, nil
}

func (m *memStore) SearchImages(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]domain.SearchHit, error) {
	return nil, nil
}

func (m *memStore) SearchMultimodal(ctx context.Context, vector []float64, topK int, textWeight, imageWeight float64) ([]domain.SearchHit, error) {
	return nil, nil
}

func (m *memStore) Delete(ctx context.Context, req domain.DeleteRequest) (int, error) {
	if info, ok := m.docInfos[req.DocumentID]; ok {
		delete(m.docInfos, req.DocumentID)
		return info.ChunkCount, nil
	}
	return 0, nil
}

func (m *memStore) RemoveImage(ctx context.Context, imageID string) (bool, error) {
	if _, ok := m.imageDocs[imageID]; ok {
		delete(m.imageDocs, imageID)
		return true, nil
	}
	return false, nil
}

func (m *memStore) ListDocuments(ctx context.Context, limit int) ([]domain.DocumentInfo, error) {
	var out []domain.DocumentInfo
	for _, info := range m.docInfos {
		out = append(out, *info)
	}
	return out, nil
}

func (m *memStore) ListImages(ctx context.Context, limit int) ([]domain.ImageDoc, error) {
	var out []domain.ImageDoc
	for _, img := range m.imageDocs {
		out = append(out, *img)
	}
	return out, nil
}

func (m *memStore) GetDocumentByID(ctx context.Context, documentID string) (*domain.DocumentInfo, error) {
	return m.docInfos[documentID], nil
}

func (m *memStore) GetImageByID(ctx context.Context, imageID string) (*domain.ImageDoc, error) {
	return m.imageDocs[imageID], nil
}

func (m *memStore) Clear(ctx context.Context) error { return nil }

func (m *memStore) Count(ctx context.Context, collection string) (int, error) { return 0, nil }

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func newService(t *testing.T, store *memStore) *DocumentService {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	ch, err := chunker.New(200, 40)
	require.NoError(t, err)
	proc, err := processor.New(ch)
	require.NoError(t, err)
	images, err := imageproc.New(stubCaptioner{}, 10, true)
	require.NoError(t, err)

	svc, err := NewDocumentService(cfg, store, stubEmbedder{}, stubCaptioner{}, proc, images)
	require.NoError(t, err)
	return svc
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a.PNG"))
	assert.True(t, IsImageFile("scan.tiff"))
	assert.False(t, IsImageFile("notes.txt"))
}

func TestAddFile_Document(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Some meaningful content for chunking."), 0o644))

	res := svc.AddFile(context.Background(), path, "", nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "document", res.ItemType)
	assert.Equal(t, "notes.txt", res.DocumentName)
	assert.Len(t, res.DocumentID, 16)
	assert.NotZero(t, res.ChunkCount)
	assert.Len(t, store.chunks, res.ChunkCount)
}

func TestAddFile_Image(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)

	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	res := svc.AddFile(context.Background(), path, "", []string{"pet"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "image", res.ItemType)
	assert.Equal(t, "a stub caption", res.Caption)
	require.Len(t, store.images, 1)
	assert.Equal(t, res.ImageID, store.images[0].ID)
}

func TestAddFile_MissingAndDirectory(t *testing.T) {
	svc := newService(t, newMemStore())
	dir := t.TempDir()

	res := svc.AddFile(context.Background(), filepath.Join(dir, "gone.txt"), "", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "FileNotFound", res.Error)

	res = svc.AddFile(context.Background(), dir, "", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "DirectoryNotSupported", res.Error)
}

func TestAddFile_UnsupportedType(t *testing.T) {
	svc := newService(t, newMemStore())

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b"), 0o644))

	res := svc.AddFile(context.Background(), path, "", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "UnsupportedFileType", res.Error)
}

func TestAddDirectory(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("text body"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.csv"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	res := svc.AddDirectory(context.Background(), dir)
	assert.True(t, res.Success)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Failed)
}

func TestListDocuments(t *testing.T) {
	store := newMemStore()
	store.docInfos["d1"] = &domain.DocumentInfo{DocumentID: "d1", DocumentName: "a.txt", ChunkCount: 2}
	store.imageDocs["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	svc := newService(t, store)

	res := svc.ListDocuments(context.Background(), 0, true)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalCount)

	res = svc.ListDocuments(context.Background(), 0, false)
	assert.Equal(t, 1, res.TotalCount)
	assert.Empty(t, res.Images)
}

func TestRemoveDocument_Auto(t *testing.T) {
	store := newMemStore()
	store.docInfos["d1"] = &domain.DocumentInfo{DocumentID: "d1", DocumentName: "a.txt", ChunkCount: 3}
	store.imageDocs["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	svc := newService(t, store)

	res := svc.RemoveDocument(context.Background(), "d1", "auto")
	require.True(t, res.Success)
	assert.Equal(t, "document", res.ItemType)
	assert.Equal(t, 3, res.DeletedChunks)

	res = svc.RemoveDocument(context.Background(), "i1", "auto")
	require.True(t, res.Success)
	assert.Equal(t, "image", res.ItemType)
	assert.Equal(t, "cat.jpg", res.Name)

	res = svc.RemoveDocument(context.Background(), "nope", "auto")
	assert.False(t, res.Success)
	assert.Equal(t, "NotFound", res.Error)
}

func TestRemoveDocument_TypeRestricts(t *testing.T) {
	store := newMemStore()
	store.imageDocs["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	svc := newService(t, store)

	// The ID belongs to an image; document type must not find it.
	res := svc.RemoveDocument(context.Background(), "i1", "document")
	assert.False(t, res.Success)
	assert.Equal(t, "NotFound", res.Error)
}

func TestSearchDocuments_EmptyQuery(t *testing.T) {
	svc := newService(t, newMemStore())
	res := svc.SearchDocuments(context.Background(), "  ", 5)
	assert.False(t, res.Success)
	assert.Equal(t, "QueryEmpty", res.Error)
}

func TestSearchDocuments(t *testing.T) {
	svc := newService(t, newMemStore())
	res := svc.SearchDocuments(context.Background(), "python", 5)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Count)
}

func TestGetDocumentByID(t *testing.T) {
	store := newMemStore()
	store.imageDocs["i1"] = &domain.ImageDoc{ID: "i1", FileName: "cat.jpg"}
	svc := newService(t, store)

	res := svc.GetDocumentByID(context.Background(), "i1")
	require.True(t, res.Success)
	assert.Equal(t, "image", res.ItemType)
	require.NotNil(t, res.Image)

	res = svc.GetDocumentByID(context.Background(), "zzz")
	assert.False(t, res.Success)
	assert.Equal(t, "NotFound", res.Error)
}

func TestClearDocuments(t *testing.T) {
	store := newMemStore()
	store.docInfos["d1"] = &domain.DocumentInfo{DocumentID: "d1", ChunkCount: 2}
	store.docInfos["d2"] = &domain.DocumentInfo{DocumentID: "d2", ChunkCount: 1}
	store.imageDocs["i1"] = &domain.ImageDoc{ID: "i1"}
	svc := newService(t, store)

	res := svc.ClearDocuments(context.Background(), true, false)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.DeletedTextCount)
	assert.Zero(t, res.DeletedImageCount)
	assert.Len(t, store.imageDocs, 1, "images untouched")

	res = svc.ClearDocuments(context.Background(), false, true)
	assert.Equal(t, 1, res.DeletedImageCount)
}

func TestClose(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)
	require.NoError(t, svc.Close())
	assert.True(t, store.closed)
}
