package mrag

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/provider"
	"github.com/liliang-cn/mrag/pkg/vision"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the Ollama connection and the vector store",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	fmt.Println("設定:")
	fmt.Printf("  Ollama:           %s\n", cfg.Ollama.BaseURL)
	fmt.Printf("  LLMモデル:        %s\n", cfg.Ollama.LLMModel)
	fmt.Printf("  埋め込みモデル:   %s\n", cfg.Ollama.EmbeddingModel)
	fmt.Printf("  ビジョンモデル:   %s\n", cfg.Ollama.VisionModel)
	fmt.Printf("  マルチモーダル:   %s\n", cfg.Ollama.MultimodalLLMModel)
	fmt.Printf("  ベクトルDB:       %s\n", cfg.VectorDB.Type)
	fmt.Println()

	gen, err := provider.NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Ollama.LLMModel)
	if err != nil {
		fmt.Printf("✗ Ollamaクライアントの作成に失敗しました: %v\n", err)
		return nil
	}

	models, err := gen.ListModels(ctx)
	if err != nil {
		fmt.Printf("✗ Ollamaサーバーに接続できません: %v\n", err)
		fmt.Println("  起動してください: ollama serve")
		return nil
	}
	fmt.Printf("✓ Ollamaサーバーに接続しました（%dモデル）\n", len(models))

	for _, model := range []string{
		cfg.Ollama.LLMModel,
		cfg.Ollama.EmbeddingModel,
		cfg.Ollama.VisionModel,
		cfg.Ollama.MultimodalLLMModel,
	} {
		if vision.ModelInstalled(model, models) {
			fmt.Printf("  ✓ %s\n", model)
		} else {
			fmt.Printf("  ✗ %s（取得: ollama pull %s）\n", model, model)
		}
	}
	fmt.Println()

	app, err := newApp(ctx)
	if err != nil {
		fmt.Printf("✗ ベクトルストアを開けません: %v\n", err)
		return nil
	}
	defer app.Close()

	fmt.Printf("✓ ベクトルストアを開きました（次元数: %d）\n", app.dimensions)
	for _, collection := range []string{domain.CollectionDocuments, domain.CollectionImages} {
		count, err := app.store.Count(ctx, collection)
		if err != nil {
			fmt.Printf("  %s: 取得エラー: %v\n", collection, err)
			continue
		}
		fmt.Printf("  %s: %d件\n", collection, count)
	}
	return nil
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
