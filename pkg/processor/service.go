// Package processor loads source files and turns them into chunks
// ready for embedding.
package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dslipak/pdf"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".pdf": true,
}

type Service struct {
	chunker domain.Chunker
}

func New(chunker domain.Chunker) (*Service, error) {
	if chunker == nil {
		return nil, fmt.Errorf("%w: nil chunker", domain.ErrConfigInvalid)
	}
	return &Service{chunker: chunker}, nil
}

// IsSupported reports whether the path has a supported document
// extension.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// LoadDocument reads and decodes a file into a Document. Text files are
// tried as UTF-8 first with a Shift-JIS fallback.
func (s *Service) LoadDocument(path string) (*domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: file not found: %s", domain.ErrInvalidInput, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: path is a directory: %s", domain.ErrInvalidInput, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s (supported: .txt, .md, .pdf)", domain.ErrUnsupportedFileType, ext)
	}

	var content string
	switch ext {
	case ".txt", ".md":
		content, err = readText(path)
	case ".pdf":
		content, err = readPDF(path)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileEmpty, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	return &domain.Document{
		Path:    absPath,
		Name:    filepath.Base(absPath),
		Content: content,
		DocType: strings.TrimPrefix(ext, "."),
		Source:  absPath,
		Created: time.Now(),
	}, nil
}

// Process loads a file, derives its document ID, and splits it into
// chunks carrying the document metadata.
func (s *Service) Process(path string) (*domain.Document, string, []domain.Chunk, error) {
	doc, err := s.LoadDocument(path)
	if err != nil {
		return nil, "", nil, err
	}

	documentID := GenerateDocumentID(doc.Source, doc.Created)
	chunks, err := s.chunker.Split(doc, documentID)
	if err != nil {
		return nil, "", nil, err
	}

	log.WithModule("processor").Debug("processed document",
		"path", path, "document_id", documentID, "chunks", len(chunks))
	return doc, documentID, chunks, nil
}

// GenerateDocumentID derives the stable 16-hex-char document ID from
// the source identifier and ingest timestamp.
func GenerateDocumentID(source string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s", source, ts.Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])[:16]
}

// readText decodes the file as UTF-8, falling back to Shift-JIS.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", domain.ErrInvalidInput, path, err)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("%w: %s is neither UTF-8 nor Shift-JIS", domain.ErrEncodingUnknown, path)
	}
	return string(decoded), nil
}

// readPDF extracts plain text page by page, skipping pages that fail.
func readPDF(path string) (string, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF %s: %v", domain.ErrInvalidInput, path, err)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			log.WithModule("processor").Warn("failed to extract page", "page", i, "path", path, "error", err)
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}
