// Package services provides the DocumentService facade shared by the
// CLI and the MCP server. Its operations return result structs with a
// Success flag instead of raising; callers render them directly.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/liliang-cn/mrag/pkg/config"
	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/imageproc"
	"github.com/liliang-cn/mrag/pkg/log"
	"github.com/liliang-cn/mrag/pkg/processor"
)

// dispatchImageExtensions decides image-vs-document routing in AddFile.
// It is wider than the loadable set: tiff files are routed to the image
// path so they fail with a clear image error instead of a document one.
var dispatchImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
}

// IsImageFile reports whether the path routes to the image pipeline.
func IsImageFile(path string) bool {
	return dispatchImageExtensions[strings.ToLower(filepath.Ext(path))]
}

// AddResult reports one ingest operation.
type AddResult struct {
	Success      bool     `json:"success"`
	ItemType     string   `json:"item_type,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	DocumentName string   `json:"document_name,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	ChunkCount   int      `json:"chunks_count,omitempty"`
	TotalSize    int      `json:"total_size,omitempty"`
	ImageID      string   `json:"image_id,omitempty"`
	FileName     string   `json:"file_name,omitempty"`
	ImageType    string   `json:"image_type,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Message      string   `json:"message"`
	Error        string   `json:"error,omitempty"`
}

// BatchAddResult reports a directory ingest.
type BatchAddResult struct {
	Success    bool        `json:"success"`
	Added      []AddResult `json:"added"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Message    string      `json:"message"`
	Error      string      `json:"error,omitempty"`
}

// ListResult is the combined document and image listing.
type ListResult struct {
	Success    bool                  `json:"success"`
	Documents  []domain.DocumentInfo `json:"documents"`
	Images     []domain.ImageDoc     `json:"images"`
	TotalCount int                   `json:"total_count"`
	Message    string                `json:"message"`
	Error      string                `json:"error,omitempty"`
}

// RemoveResult reports one delete operation.
type RemoveResult struct {
	Success       bool   `json:"success"`
	ItemType      string `json:"item_type,omitempty"`
	ItemID        string `json:"item_id"`
	Name          string `json:"name,omitempty"`
	DeletedChunks int    `json:"deleted_chunks,omitempty"`
	Message       string `json:"message"`
	Error         string `json:"error,omitempty"`
}

// SearchOutcome carries ranked hits for one query.
type SearchOutcome struct {
	Success bool               `json:"success"`
	Query   string             `json:"query"`
	Results []domain.SearchHit `json:"results"`
	Count   int                `json:"count"`
	Message string             `json:"message"`
	Error   string             `json:"error,omitempty"`
}

// GetResult reports a lookup by ID over both collections.
type GetResult struct {
	Success  bool                 `json:"success"`
	ItemType string               `json:"item_type,omitempty"`
	Document *domain.DocumentInfo `json:"document,omitempty"`
	Image    *domain.ImageDoc     `json:"image,omitempty"`
	Message  string               `json:"message"`
	Error    string               `json:"error,omitempty"`
}

// ClearResult reports a bulk wipe.
type ClearResult struct {
	Success           bool     `json:"success"`
	DeletedTextCount  int      `json:"deleted_text_count"`
	DeletedImageCount int      `json:"deleted_image_count"`
	TotalDeleted      int      `json:"total_deleted"`
	Message           string   `json:"message"`
	Errors            []string `json:"errors,omitempty"`
}

// DocumentService is the ingest and management facade over the store,
// the document processor and the image pipeline.
type DocumentService struct {
	cfg       *config.Config
	store     domain.VectorStore
	embedder  domain.Embedder
	captioner domain.Captioner
	processor *processor.Service
	images    *imageproc.Service
}

func NewDocumentService(cfg *config.Config, store domain.VectorStore, embedder domain.Embedder, captioner domain.Captioner, proc *processor.Service, images *imageproc.Service) (*DocumentService, error) {
	if cfg == nil || store == nil || embedder == nil || captioner == nil || proc == nil || images == nil {
		return nil, fmt.Errorf("%w: document service missing a dependency", domain.ErrConfigInvalid)
	}
	return &DocumentService{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		captioner: captioner,
		processor: proc,
		images:    images,
	}, nil
}

// Store exposes the underlying vector store for engines built on top
// of the same backend.
func (s *DocumentService) Store() domain.VectorStore {
	return s.store
}

func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrUnsupportedFileType):
		return "UnsupportedFileType"
	case errors.Is(err, domain.ErrImageTooLarge):
		return "ImageTooLarge"
	case errors.Is(err, domain.ErrImageInvalid):
		return "ImageInvalid"
	case errors.Is(err, domain.ErrFileEmpty):
		return "FileEmpty"
	case errors.Is(err, domain.ErrEncodingUnknown):
		return "EncodingUnknown"
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "EmbeddingUnavailable"
	case errors.Is(err, domain.ErrCaptionEmpty):
		return "CaptionEmpty"
	default:
		return "Error"
	}
}

// AddFile routes by extension: known image extensions go through the
// image pipeline, everything else through the document pipeline.
// Directories are rejected; use AddDirectory.
func (s *DocumentService) AddFile(ctx context.Context, path, caption string, tags []string) AddResult {
	info, err := os.Stat(path)
	if err != nil {
		return AddResult{
			Success: false,
			Message: fmt.Sprintf("ファイルまたはディレクトリが見つかりません: %s", path),
			Error:   "FileNotFound",
		}
	}
	if info.IsDir() {
		return AddResult{
			Success: false,
			Message: "ディレクトリの一括追加は add --dir を使用してください。",
			Error:   "DirectoryNotSupported",
		}
	}

	if IsImageFile(path) {
		return s.addImage(ctx, path, caption, tags)
	}
	return s.addDocument(ctx, path)
}

func (s *DocumentService) addDocument(ctx context.Context, path string) AddResult {
	doc, documentID, chunks, err := s.processor.Process(path)
	if err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: errKind(err)}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: errKind(err)}
	}

	if err := s.store.UpsertChunks(ctx, chunks, vectors); err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: "VectorStoreError"}
	}

	msg := fmt.Sprintf("ドキュメント '%s' を正常に追加しました", doc.Name)
	log.WithModule("services").Info("document added",
		"document_id", documentID, "name", doc.Name, "chunks", len(chunks))
	return AddResult{
		Success:      true,
		ItemType:     "document",
		DocumentID:   documentID,
		DocumentName: doc.Name,
		DocumentType: doc.DocType,
		ChunkCount:   len(chunks),
		TotalSize:    doc.Size(),
		Message:      msg,
	}
}

func (s *DocumentService) addImage(ctx context.Context, path, caption string, tags []string) AddResult {
	img, err := s.images.Load(ctx, path, imageproc.LoadOptions{Caption: caption, Tags: tags})
	if err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: errKind(err)}
	}

	vector, err := s.captioner.EmbedImage(ctx, img.Path)
	if err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: errKind(err)}
	}

	if err := s.store.UpsertImages(ctx, []domain.ImageDoc{*img}, [][]float64{vector}); err != nil {
		return AddResult{Success: false, Message: err.Error(), Error: "VectorStoreError"}
	}

	msg := fmt.Sprintf("画像 '%s' を正常に追加しました", img.FileName)
	log.WithModule("services").Info("image added", "image_id", img.ID, "file", img.FileName)
	return AddResult{
		Success:   true,
		ItemType:  "image",
		ImageID:   img.ID,
		FileName:  img.FileName,
		ImageType: img.ImageType,
		Caption:   img.Caption,
		Tags:      img.Tags,
		Message:   msg,
	}
}

// AddDirectory ingests every supported file directly under dir.
// Per-file failures are recorded, not fatal.
func (s *DocumentService) AddDirectory(ctx context.Context, dir string) BatchAddResult {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return BatchAddResult{
			Success: false,
			Message: fmt.Sprintf("ディレクトリを読み込めません: %s", dir),
			Error:   "DirectoryNotFound",
		}
	}

	var result BatchAddResult
	for _, entry := range entries {
		if entry.IsDir() {
			result.Skipped++
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !IsImageFile(path) && !processor.IsSupported(path) {
			result.Skipped++
			continue
		}

		added := s.AddFile(ctx, path, "", nil)
		if added.Success {
			result.Added = append(result.Added, added)
		} else {
			result.Failed++
			log.WithModule("services").Warn("failed to add file", "path", path, "error", added.Message)
		}
	}

	result.Success = result.Failed == 0
	result.Message = fmt.Sprintf("%d件を追加しました（スキップ: %d件, 失敗: %d件）",
		len(result.Added), result.Skipped, result.Failed)
	return result
}

// ListDocuments returns both modalities; a failure on one side degrades
// to the other.
func (s *DocumentService) ListDocuments(ctx context.Context, limit int, includeImages bool) ListResult {
	result := ListResult{Success: true, Documents: []domain.DocumentInfo{}, Images: []domain.ImageDoc{}}

	docs, err := s.store.ListDocuments(ctx, limit)
	if err != nil {
		log.WithModule("services").Warn("failed to list documents", "error", err)
	} else {
		result.Documents = docs
	}

	if includeImages {
		images, err := s.store.ListImages(ctx, limit)
		if err != nil {
			log.WithModule("services").Warn("failed to list images", "error", err)
		} else {
			result.Images = images
		}
	}

	result.TotalCount = len(result.Documents) + len(result.Images)
	if result.TotalCount == 0 {
		result.Message = "登録されているドキュメントはありません"
	} else {
		result.Message = fmt.Sprintf("合計 %d件のドキュメントを取得しました （テキスト: %d件, 画像: %d件）",
			result.TotalCount, len(result.Documents), len(result.Images))
	}
	return result
}

// RemoveDocument deletes by ID. itemType is "document", "image" or
// "auto"; auto tries the document collection first.
func (s *DocumentService) RemoveDocument(ctx context.Context, itemID, itemType string) RemoveResult {
	if itemType == "" {
		itemType = "auto"
	}

	if itemType == "document" || itemType == "auto" {
		doc, err := s.store.GetDocumentByID(ctx, itemID)
		if err != nil && itemType == "document" {
			return RemoveResult{Success: false, ItemID: itemID, Message: err.Error(), Error: "VectorStoreError"}
		}
		if doc != nil {
			deleted, err := s.store.Delete(ctx, domain.DeleteRequest{DocumentID: itemID})
			if err != nil {
				return RemoveResult{Success: false, ItemID: itemID, Message: err.Error(), Error: "VectorStoreError"}
			}
			msg := fmt.Sprintf("ドキュメント '%s' を削除しました", doc.DocumentName)
			log.WithModule("services").Info("document removed", "document_id", itemID, "chunks", deleted)
			return RemoveResult{
				Success:       true,
				ItemType:      "document",
				ItemID:        itemID,
				Name:          doc.DocumentName,
				DeletedChunks: deleted,
				Message:       msg,
			}
		}
	}

	if itemType == "image" || itemType == "auto" {
		img, err := s.store.GetImageByID(ctx, itemID)
		if err != nil && itemType == "image" {
			return RemoveResult{Success: false, ItemID: itemID, Message: err.Error(), Error: "VectorStoreError"}
		}
		if img != nil {
			removed, err := s.store.RemoveImage(ctx, itemID)
			if err != nil {
				return RemoveResult{Success: false, ItemID: itemID, Message: err.Error(), Error: "VectorStoreError"}
			}
			if !removed {
				return RemoveResult{
					Success: false, ItemID: itemID,
					Message: fmt.Sprintf("画像ID '%s' の削除に失敗しました", itemID),
					Error:   "DeleteFailed",
				}
			}
			msg := fmt.Sprintf("画像 '%s' を削除しました", img.FileName)
			log.WithModule("services").Info("image removed", "image_id", itemID)
			return RemoveResult{Success: true, ItemType: "image", ItemID: itemID, Name: img.FileName, Message: msg}
		}
	}

	return RemoveResult{
		Success: false,
		ItemID:  itemID,
		Message: fmt.Sprintf("ID '%s' のドキュメントまたは画像が見つかりませんでした", itemID),
		Error:   "NotFound",
	}
}

// SearchDocuments runs text KNN over the documents collection.
func (s *DocumentService) SearchDocuments(ctx context.Context, query string, topK int) SearchOutcome {
	return s.search(ctx, query, topK, s.store.Search)
}

// SearchImages runs text-to-image KNN over the images collection.
func (s *DocumentService) SearchImages(ctx context.Context, query string, topK int) SearchOutcome {
	return s.search(ctx, query, topK, s.store.SearchImages)
}

func (s *DocumentService) search(ctx context.Context, query string, topK int, searchFn func(context.Context, []float64, int, map[string]interface{}) ([]domain.SearchHit, error)) SearchOutcome {
	if strings.TrimSpace(query) == "" {
		return SearchOutcome{Success: false, Query: query, Results: []domain.SearchHit{},
			Message: "検索クエリが空です", Error: "QueryEmpty"}
	}
	if topK <= 0 {
		topK = s.cfg.Search.TopK
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return SearchOutcome{Success: false, Query: query, Results: []domain.SearchHit{},
			Message: err.Error(), Error: errKind(err)}
	}

	hits, err := searchFn(ctx, vector, topK, nil)
	if err != nil {
		return SearchOutcome{Success: false, Query: query, Results: []domain.SearchHit{},
			Message: err.Error(), Error: "VectorStoreError"}
	}

	return SearchOutcome{
		Success: true,
		Query:   query,
		Results: hits,
		Count:   len(hits),
		Message: fmt.Sprintf("%d件の検索結果を取得しました（クエリ: '%s'）", len(hits), query),
	}
}

// SearchMultimodal fuses both collections with the configured weights.
func (s *DocumentService) SearchMultimodal(ctx context.Context, query string, topK int) SearchOutcome {
	return s.search(ctx, query, topK, func(ctx context.Context, vector []float64, k int, _ map[string]interface{}) ([]domain.SearchHit, error) {
		return s.store.SearchMultimodal(ctx, vector, k,
			s.cfg.Multimodal.TextWeight, s.cfg.Multimodal.ImageWeight)
	})
}

// GetDocumentByID looks the ID up as a document first, then as an
// image.
func (s *DocumentService) GetDocumentByID(ctx context.Context, documentID string) GetResult {
	doc, err := s.store.GetDocumentByID(ctx, documentID)
	if err != nil {
		return GetResult{Success: false, Message: err.Error(), Error: "VectorStoreError"}
	}
	if doc != nil {
		return GetResult{
			Success:  true,
			ItemType: "document",
			Document: doc,
			Message:  fmt.Sprintf("ドキュメント '%s' を取得しました", doc.DocumentName),
		}
	}

	img, err := s.store.GetImageByID(ctx, documentID)
	if err != nil {
		return GetResult{Success: false, Message: err.Error(), Error: "VectorStoreError"}
	}
	if img != nil {
		return GetResult{
			Success:  true,
			ItemType: "image",
			Image:    img,
			Message:  fmt.Sprintf("画像 '%s' を取得しました", img.FileName),
		}
	}

	return GetResult{
		Success: false,
		Message: fmt.Sprintf("ID '%s' のドキュメントまたは画像が見つかりませんでした", documentID),
		Error:   "NotFound",
	}
}

// ClearDocuments wipes the selected modalities. Counts are taken
// before deletion so the result reports what was removed.
func (s *DocumentService) ClearDocuments(ctx context.Context, clearText, clearImages bool) ClearResult {
	var result ClearResult

	if clearText {
		docs, err := s.store.ListDocuments(ctx, 0)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("テキストドキュメントの削除エラー: %v", err))
		} else {
			for _, doc := range docs {
				if _, err := s.store.Delete(ctx, domain.DeleteRequest{DocumentID: doc.DocumentID}); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("テキストドキュメントの削除エラー: %v", err))
					continue
				}
				result.DeletedTextCount++
			}
		}
	}

	if clearImages {
		images, err := s.store.ListImages(ctx, 0)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("画像の削除エラー: %v", err))
		} else {
			for _, img := range images {
				if _, err := s.store.RemoveImage(ctx, img.ID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("画像の削除エラー: %v", err))
					continue
				}
				result.DeletedImageCount++
			}
		}
	}

	result.TotalDeleted = result.DeletedTextCount + result.DeletedImageCount
	if len(result.Errors) > 0 {
		result.Success = false
		result.Message = fmt.Sprintf("一部のドキュメント削除に失敗しました（削除済み: %d件）", result.TotalDeleted)
	} else {
		result.Success = true
		result.Message = fmt.Sprintf("すべてのドキュメントを削除しました （テキスト: %d件, 画像: %d件, 合計: %d件）",
			result.DeletedTextCount, result.DeletedImageCount, result.TotalDeleted)
	}
	log.WithModule("services").Info("clear complete",
		"text", result.DeletedTextCount, "images", result.DeletedImageCount, "errors", len(result.Errors))
	return result
}

// Close releases the vector store.
func (s *DocumentService) Close() error {
	return s.store.Close()
}
