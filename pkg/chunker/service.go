package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/mrag/pkg/domain"
)

// Separators ordered coarsest to finest. The empty string means hard
// character slicing and must stay last.
var defaultSeparators = []string{"\n\n", "\n", "。", ".", " ", ""}

type Service struct {
	chunkSize int
	overlap   int
}

// New validates size and overlap the same way config does; the chunker
// is also constructed directly in tests.
func New(chunkSize, overlap int) (*Service, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive: %d", domain.ErrConfigInvalid, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size): %d", domain.ErrConfigInvalid, overlap)
	}
	return &Service{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split splits the document content into overlapping chunks. Chunk IDs
// are "<documentID>_chunk_<index>" with a zero-padded 4-digit index.
// Character offsets are located by first-match search from a forward
// cursor and are advisory when the same text repeats in the source.
func (s *Service) Split(doc *domain.Document, documentID string) ([]domain.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", domain.ErrInvalidInput)
	}
	content := doc.Content
	if strings.TrimSpace(content) == "" {
		return []domain.Chunk{}, nil
	}

	pieces := s.splitText(content, defaultSeparators)

	meta := map[string]interface{}{
		"document_name": doc.Name,
		"source":        doc.Source,
		"doc_type":      doc.DocType,
		"timestamp":     doc.Created.Format("2006-01-02T15:04:05Z07:00"),
	}
	for k, v := range doc.Metadata {
		meta[k] = v
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	searchFrom := 0
	for i, piece := range pieces {
		startByte := searchFrom
		if idx := strings.Index(content[searchFrom:], piece); idx >= 0 {
			startByte = searchFrom + idx
		}
		startChar := utf8.RuneCountInString(content[:startByte])
		endChar := startChar + utf8.RuneCountInString(piece)

		id := fmt.Sprintf("%s_chunk_%04d", documentID, i)
		chunks = append(chunks, domain.NewChunk(id, documentID, piece, i, startChar, endChar, meta))

		if startByte+1 <= len(content) {
			searchFrom = startByte + 1
		}
	}

	return chunks, nil
}

// splitText walks the separator list recursively: split on the first
// separator present in the text, keep pieces that fit, and recurse into
// oversized pieces with the remaining separators.
func (s *Service) splitText(text string, separators []string) []string {
	sep := ""
	rest := []string{}
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardSlice(text)
	}

	splits := splitKeepSeparator(text, sep)

	var final []string
	var good []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			// No finer separator left; hard slice on rune boundaries.
			final = append(final, s.hardSlice(piece)...)
		} else {
			final = append(final, s.splitText(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// splitKeepSeparator splits text on sep, keeping the separator attached
// to the preceding piece so content is reconstructible.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge greedily packs pieces into chunks of at most chunkSize
// characters, carrying the last overlap characters into the next chunk.
func (s *Service) merge(pieces []string) []string {
	var chunks []string
	var current []string
	total := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(current, ""))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			flush()
			// Drop from the front until the retained tail fits the
			// overlap budget.
			for total > s.overlap && len(current) > 1 {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
			if total > s.overlap && len(current) == 1 {
				tail := tailRunes(current[0], s.overlap)
				current = current[:0]
				if tail != "" {
					current = append(current, tail)
				}
				total = utf8.RuneCountInString(tail)
			}
		}
		current = append(current, piece)
		total += n
	}
	flush()
	return chunks
}

// hardSlice cuts text into chunkSize-rune windows stepping by
// chunkSize-overlap.
func (s *Service) hardSlice(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap
	if step <= 0 {
		step = s.chunkSize
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
