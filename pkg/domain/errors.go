package domain

import "errors"

var (
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrEmbeddingUnavailable   = errors.New("embedding backend unavailable")
	ErrEmbeddingInput         = errors.New("invalid embedding input")
	ErrVisionModelMissing     = errors.New("vision model not installed")
	ErrCaptionEmpty           = errors.New("empty caption from vision model")
	ErrQueryEmpty             = errors.New("empty query")
	ErrQuestionEmpty          = errors.New("empty question")
	ErrUnsupportedFileType    = errors.New("unsupported file type")
	ErrFileEmpty              = errors.New("file is empty")
	ErrEncodingUnknown        = errors.New("unknown text encoding")
	ErrImageTooLarge          = errors.New("image file too large")
	ErrImageInvalid           = errors.New("invalid image file")
	ErrLengthMismatch         = errors.New("chunks and vectors length mismatch")
	ErrMissingDeletePredicate = errors.New("delete requires exactly one predicate")
	ErrRetrievalFailed        = errors.New("retrieval failed")
	ErrGenerationFailed       = errors.New("text generation failed")
	ErrStoreClosed            = errors.New("vector store is closed")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
)
