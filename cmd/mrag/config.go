package mrag

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print every setting after merging the defaults, the configuration
file and environment variable overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printConfig(cmd.OutOrStdout(), cfg, cfgFile)
		return nil
	},
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	if path == "" {
		path = "（デフォルト: ./mrag.toml）"
	}
	fmt.Fprintf(w, "設定ファイル: %s\n\n", path)

	fmt.Fprintln(w, "[ollama]")
	fmt.Fprintf(w, "  base_url             = %s\n", cfg.Ollama.BaseURL)
	fmt.Fprintf(w, "  llm_model            = %s\n", cfg.Ollama.LLMModel)
	fmt.Fprintf(w, "  embedding_model      = %s\n", cfg.Ollama.EmbeddingModel)
	fmt.Fprintf(w, "  vision_model         = %s\n", cfg.Ollama.VisionModel)
	fmt.Fprintf(w, "  multimodal_llm_model = %s\n", cfg.Ollama.MultimodalLLMModel)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[vector_db]")
	fmt.Fprintf(w, "  type        = %s\n", cfg.VectorDB.Type)
	fmt.Fprintf(w, "  persist_dir = %s\n", cfg.VectorDB.PersistDir)
	fmt.Fprintf(w, "  qdrant_host = %s\n", cfg.VectorDB.QdrantHost)
	fmt.Fprintf(w, "  qdrant_port = %d\n", cfg.VectorDB.QdrantPort)
	if cfg.VectorDB.QdrantKey != "" {
		fmt.Fprintln(w, "  qdrant_api_key = ****")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[chunker]")
	fmt.Fprintf(w, "  chunk_size = %d\n", cfg.Chunker.ChunkSize)
	fmt.Fprintf(w, "  overlap    = %d\n", cfg.Chunker.Overlap)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[image]")
	fmt.Fprintf(w, "  max_size_mb  = %g\n", cfg.Image.MaxSizeMB)
	fmt.Fprintf(w, "  auto_caption = %t\n", cfg.Image.AutoCaption)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[multimodal]")
	fmt.Fprintf(w, "  text_weight  = %g\n", cfg.Multimodal.TextWeight)
	fmt.Fprintf(w, "  image_weight = %g\n", cfg.Multimodal.ImageWeight)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[search]")
	fmt.Fprintf(w, "  top_k       = %d\n", cfg.Search.TopK)
	fmt.Fprintf(w, "  max_history = %d\n", cfg.Search.MaxHistory)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "log_level = %s\n", cfg.LogLevel)
}

func init() {
	RootCmd.AddCommand(configCmd)
}
