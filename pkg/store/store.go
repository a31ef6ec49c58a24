// Package store provides the two vector store backends, the factory
// that selects between them, and multimodal fusion over the documents
// and images collections.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/liliang-cn/mrag/pkg/domain"
)

// timeLayout is the ISO-8601 form used for persisted timestamps.
const timeLayout = "2006-01-02T15:04:05Z07:00"

func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// flattenMetadata turns a metadata map into string values for storage.
// Scalars are formatted in place; nested structures are JSON-encoded
// under a "custom_" prefixed key.
func flattenMetadata(meta map[string]interface{}) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		case nil:
			out[k] = ""
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				out["custom_"+k] = fmt.Sprintf("%v", val)
			} else {
				out["custom_"+k] = string(encoded)
			}
		}
	}
	return out
}

// imageMetadata builds the persisted payload for an image document.
func imageMetadata(img domain.ImageDoc) map[string]string {
	meta := map[string]string{
		"id":         img.ID,
		"file_path":  img.Path,
		"file_name":  img.FileName,
		"image_type": img.ImageType,
		"caption":    img.Caption,
		"created_at": img.Created.Format(timeLayout),
		"source":     "local",
	}
	if len(img.Tags) > 0 {
		if encoded, err := json.Marshal(img.Tags); err == nil {
			meta["custom_tags"] = string(encoded)
		}
	}
	for k, v := range flattenMetadata(img.Metadata) {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
	return meta
}

// imageFromMetadata reconstructs an ImageDoc from persisted metadata,
// without image bytes.
func imageFromMetadata(meta map[string]string) domain.ImageDoc {
	img := domain.ImageDoc{
		ID:        meta["id"],
		Path:      meta["file_path"],
		FileName:  meta["file_name"],
		ImageType: meta["image_type"],
		Caption:   meta["caption"],
		Metadata:  make(map[string]interface{}, len(meta)),
	}
	if ts, err := time.Parse(timeLayout, meta["created_at"]); err == nil {
		img.Created = ts
	}
	if raw, ok := meta["custom_tags"]; ok {
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err == nil {
			img.Tags = tags
		}
	}
	for k, v := range meta {
		img.Metadata[k] = v
	}
	return img
}

// chunkFromStored rebuilds a Chunk from persisted metadata strings.
// Offsets and index are parsed back to ints; they remain advisory.
func chunkFromStored(id, docID, content string, meta map[string]string) domain.Chunk {
	c := domain.Chunk{
		ID:         id,
		DocumentID: docID,
		Content:    content,
		Metadata:   make(map[string]interface{}, len(meta)),
	}
	for k, v := range meta {
		c.Metadata[k] = v
	}
	c.Index = parseInt(meta["chunk_index"])
	c.StartChar = parseInt(meta["start_char"])
	c.EndChar = parseInt(meta["end_char"])
	return c
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// hitFromChunk assembles a ranked text hit; rank assignment happens at
// the end of each search.
func hitFromChunk(chunk domain.Chunk, score float64) domain.SearchHit {
	name, _ := chunk.Metadata["document_name"].(string)
	source, _ := chunk.Metadata["source"].(string)
	// The clamped score cannot fail validation.
	hit, _ := domain.NewSearchHit(chunk, clampScore(score), name, source)
	return hit
}

// hitFromImage assembles an image hit with a synthetic chunk whose
// content is the caption.
func hitFromImage(meta map[string]string, score float64) domain.SearchHit {
	img := imageFromMetadata(meta)
	chunk := domain.Chunk{
		ID:         img.ID,
		DocumentID: img.ID,
		Content:    img.Caption,
		StartChar:  0,
		EndChar:    len([]rune(img.Caption)),
		Metadata:   img.Metadata,
	}
	hit, _ := domain.NewSearchHit(chunk, clampScore(score), img.FileName, img.Path)
	hit.ResultType = domain.ResultTypeImage
	hit.ImagePath = img.Path
	hit.Caption = img.Caption
	return hit
}

// assignRanks sorts hits by score descending and reassigns 1-based
// ranks. Sort is stable so backend insertion order breaks ties.
func assignRanks(hits []domain.SearchHit) []domain.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

// aggregateDocuments folds chunks into one DocumentInfo per document,
// summing counts and sizes. Chunks inside each entry are ordered by
// chunk index.
func aggregateDocuments(chunks []domain.Chunk, limit int) []domain.DocumentInfo {
	byDoc := make(map[string]*domain.DocumentInfo)
	var order []string

	for _, c := range chunks {
		info, ok := byDoc[c.DocumentID]
		if !ok {
			name, _ := c.Metadata["document_name"].(string)
			source, _ := c.Metadata["source"].(string)
			docType, _ := c.Metadata["doc_type"].(string)
			info = &domain.DocumentInfo{
				DocumentID:   c.DocumentID,
				DocumentName: name,
				Source:       source,
				DocType:      docType,
			}
			byDoc[c.DocumentID] = info
			order = append(order, c.DocumentID)
		}
		info.ChunkCount++
		info.TotalSize += c.Size()
		info.Chunks = append(info.Chunks, c)
	}

	out := make([]domain.DocumentInfo, 0, len(order))
	for _, id := range order {
		info := byDoc[id]
		sort.Slice(info.Chunks, func(i, j int) bool {
			return info.Chunks[i].Index < info.Chunks[j].Index
		})
		out = append(out, *info)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// validateDeleteRequest enforces the exactly-one-predicate rule.
func validateDeleteRequest(req domain.DeleteRequest) error {
	set := 0
	if req.DocumentID != "" {
		set++
	}
	if len(req.ChunkIDs) > 0 {
		set++
	}
	if len(req.Where) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: got %d predicates", domain.ErrMissingDeletePredicate, set)
	}
	return nil
}

// matchesFilter applies the flat equality-filter model to stored
// string metadata.
func matchesFilter(meta map[string]string, filter map[string]interface{}) bool {
	for k, v := range filter {
		if meta[k] != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}
