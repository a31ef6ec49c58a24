// Package mrag implements the command line interface.
package mrag

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/chunker"
	"github.com/liliang-cn/mrag/pkg/config"
	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/imageproc"
	"github.com/liliang-cn/mrag/pkg/log"
	"github.com/liliang-cn/mrag/pkg/processor"
	"github.com/liliang-cn/mrag/pkg/provider"
	"github.com/liliang-cn/mrag/pkg/services"
	"github.com/liliang-cn/mrag/pkg/store"
	"github.com/liliang-cn/mrag/pkg/vision"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version = "0.1.0"
)

// errReported marks failures a command has already rendered; main
// still exits non-zero but must not print them again.
var errReported = errors.New("command failed")

var RootCmd = &cobra.Command{
	Use:   "mrag",
	Short: "Local multimodal RAG over Ollama",
	Long: `mrag stores local documents and images in a vector database and
answers natural language questions against them. Text chunks and image
captions share one embedding space, so a plain text query retrieves
both modalities. Everything runs locally through Ollama.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		if verbose {
			log.SetDebug(true)
		} else if err := log.SetLevelName(cfg.LogLevel); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./mrag.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")
}

// PrintError renders an error as "✗ <kind>: <message>" with a model
// pull hint where that is the likely fix.
func PrintError(err error) {
	if err == nil || errors.Is(err, errReported) {
		return
	}
	fmt.Fprintf(os.Stderr, "✗ %s: %v\n", errorKind(err), err)

	if cfg != nil && errors.Is(err, domain.ErrEmbeddingUnavailable) {
		fmt.Fprintf(os.Stderr, "  モデルが未取得の場合: ollama pull %s\n", cfg.Ollama.EmbeddingModel)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfigInvalid):
		return "ConfigError"
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "EmbeddingUnavailable"
	case errors.Is(err, domain.ErrVisionModelMissing):
		return "VisionModelMissing"
	case errors.Is(err, domain.ErrQueryEmpty):
		return "QueryEmpty"
	case errors.Is(err, domain.ErrQuestionEmpty):
		return "QuestionEmpty"
	case errors.Is(err, domain.ErrRetrievalFailed):
		return "RetrievalFailed"
	case errors.Is(err, domain.ErrGenerationFailed):
		return "GenerationFailed"
	case errors.Is(err, domain.ErrNotFound):
		return "NotFound"
	default:
		return "Error"
	}
}

// failure renders a service-level failure and returns the sentinel so
// main exits 1 without printing twice.
func failure(kind, message string) error {
	if kind == "" {
		kind = "Error"
	}
	fmt.Fprintf(os.Stderr, "✗ %s: %s\n", kind, message)
	return errReported
}

// app bundles the wired components a command needs. The embedding
// dimension is probed once at startup so both store backends are
// created with the right vector size.
type app struct {
	store      domain.VectorStore
	embedder   *provider.OllamaEmbedder
	captioner  *vision.Service
	docs       *services.DocumentService
	dimensions int
}

func newApp(ctx context.Context) (*app, error) {
	embedder, err := provider.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	probe, err := embedder.EmbedQuery(ctx, "次元数の確認")
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg, len(probe))
	if err != nil {
		return nil, err
	}

	visionGen, err := provider.NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Ollama.VisionModel)
	if err != nil {
		st.Close()
		return nil, err
	}
	captioner, err := vision.New(visionGen, embedder, cfg.Ollama.VisionModel)
	if err != nil {
		st.Close()
		return nil, err
	}

	ch, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		st.Close()
		return nil, err
	}
	proc, err := processor.New(ch)
	if err != nil {
		st.Close()
		return nil, err
	}
	images, err := imageproc.New(captioner, cfg.Image.MaxSizeMB, cfg.Image.AutoCaption)
	if err != nil {
		st.Close()
		return nil, err
	}

	docs, err := services.NewDocumentService(cfg, st, embedder, captioner, proc, images)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		store:      st,
		embedder:   embedder,
		captioner:  captioner,
		docs:       docs,
		dimensions: len(probe),
	}, nil
}

func (a *app) Close() {
	if err := a.docs.Close(); err != nil {
		log.WithModule("cli").Warn("failed to close store", "error", err)
	}
}
