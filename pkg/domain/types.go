package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Document is a source artifact before splitting. Only its chunks are
// persisted; the Document itself stays in memory for the ingest call.
type Document struct {
	Path     string                 `json:"path"`
	Name     string                 `json:"name"`
	Content  string                 `json:"content"`
	DocType  string                 `json:"doc_type"`
	Source   string                 `json:"source"`
	Created  time.Time              `json:"created"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Size returns the character count of the document content.
func (d *Document) Size() int {
	return utf8.RuneCountInString(d.Content)
}

// Chunk is the persisted retrieval unit for text. StartChar/EndChar are
// advisory: the splitter locates emitted text by first match, which can
// mis-place a chunk whose content repeats in the source.
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Index      int                    `json:"chunk_index"`
	StartChar  int                    `json:"start_char"`
	EndChar    int                    `json:"end_char"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Size returns the character count of the chunk content.
func (c *Chunk) Size() int {
	return utf8.RuneCountInString(c.Content)
}

// NewChunk builds a chunk and injects the chunk-level keys into its
// metadata map, copying the parent document metadata first.
func NewChunk(id, documentID, content string, index, startChar, endChar int, meta map[string]interface{}) Chunk {
	c := Chunk{
		ID:         id,
		DocumentID: documentID,
		Content:    content,
		Index:      index,
		StartChar:  startChar,
		EndChar:    endChar,
		Metadata:   make(map[string]interface{}, len(meta)+6),
	}
	for k, v := range meta {
		c.Metadata[k] = v
	}
	c.Metadata["chunk_id"] = id
	c.Metadata["document_id"] = documentID
	c.Metadata["chunk_index"] = index
	c.Metadata["start_char"] = startChar
	c.Metadata["end_char"] = endChar
	c.Metadata["size"] = c.Size()
	return c
}

// ImageDoc is the persisted retrieval unit for images. Caption is never
// empty; when auto-captioning is off the loader falls back to
// "Image: <filename>". Raw bytes are not persisted; consumers read the
// file at Path when they need the pixels.
type ImageDoc struct {
	ID        string                 `json:"id"`
	Path      string                 `json:"file_path"`
	FileName  string                 `json:"file_name"`
	ImageType string                 `json:"image_type"`
	Caption   string                 `json:"caption"`
	Tags      []string               `json:"tags,omitempty"`
	Created   time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	ResultTypeText  = "text"
	ResultTypeImage = "image"
)

// SearchHit is one ranked retrieval result. For image hits the Chunk is
// synthetic: content is the caption and both IDs are the image ID.
type SearchHit struct {
	Chunk          Chunk                  `json:"chunk"`
	Score          float64                `json:"score"`
	DocumentName   string                 `json:"document_name"`
	DocumentSource string                 `json:"document_source"`
	Rank           int                    `json:"rank"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ResultType     string                 `json:"result_type"`
	ImagePath      string                 `json:"image_path,omitempty"`
	Caption        string                 `json:"caption,omitempty"`
}

// NewSearchHit validates the score range at construction.
func NewSearchHit(chunk Chunk, score float64, name, source string) (SearchHit, error) {
	if score < 0 || score > 1 {
		return SearchHit{}, fmt.Errorf("%w: score %v outside [0,1]", ErrInvalidInput, score)
	}
	return SearchHit{
		Chunk:          chunk,
		Score:          score,
		DocumentName:   name,
		DocumentSource: source,
		ResultType:     ResultTypeText,
		Metadata:       chunk.Metadata,
	}, nil
}

// ChatTurn is one role-tagged message in a conversation.
type ChatTurn struct {
	Role     string                 `json:"role"`
	Content  string                 `json:"content"`
	Created  time.Time              `json:"timestamp"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// NewChatTurn rejects unknown roles.
func NewChatTurn(role, content string) (ChatTurn, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return ChatTurn{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return ChatTurn{Role: role, Content: content, Created: time.Now()}, nil
}

// ChatLog is a bounded ordered message history. Eviction happens after
// append: the most recent max turns are kept. Not safe for concurrent
// mutation; pin each chat session to one handler.
type ChatLog struct {
	turns []ChatTurn
	max   int
}

// NewChatLog creates a log keeping at most max turns; max <= 0 means
// unbounded.
func NewChatLog(max int) *ChatLog {
	return &ChatLog{max: max}
}

func (l *ChatLog) Append(turn ChatTurn) {
	l.turns = append(l.turns, turn)
	if l.max > 0 && len(l.turns) > l.max {
		l.turns = l.turns[len(l.turns)-l.max:]
	}
}

// Turns returns a copy of the retained history in order.
func (l *ChatLog) Turns() []ChatTurn {
	out := make([]ChatTurn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *ChatLog) Len() int {
	return len(l.turns)
}

func (l *ChatLog) Clear() {
	l.turns = nil
}

// DocumentInfo is the aggregated per-document view returned by listing.
type DocumentInfo struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Source       string  `json:"source"`
	DocType      string  `json:"doc_type"`
	ChunkCount   int     `json:"chunk_count"`
	TotalSize    int     `json:"total_size"`
	Chunks       []Chunk `json:"chunks,omitempty"`
}

// Collection names used by every store backend.
const (
	CollectionDocuments = "documents"
	CollectionImages    = "images"
)
