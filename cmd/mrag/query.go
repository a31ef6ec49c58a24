package mrag

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/provider"
	"github.com/liliang-cn/mrag/pkg/rag"
)

var (
	queryTopK        int
	queryShowSources bool
	queryImagePaths  []string
	queryMultimodal  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed content",
	Long: `Retrieve relevant context and generate an answer with the local LLM.
With --multimodal (or --image) the fused retriever runs over both
collections and the retrieved images are passed to the vision LLM.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		question := strings.Join(args, " ")

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		var answer *rag.Answer
		if queryMultimodal || len(queryImagePaths) > 0 {
			engine, err := newMultimodalEngine(ctx, app)
			if err != nil {
				return err
			}
			answer, err = engine.QueryWithImages(ctx, question, queryImagePaths, queryTopK)
			if err != nil {
				return err
			}
		} else {
			engine, err := newTextEngine(app)
			if err != nil {
				return err
			}
			answer, err = engine.Query(ctx, question, queryTopK, nil)
			if err != nil {
				return err
			}
		}

		fmt.Println("回答:")
		fmt.Println(answer.Answer)

		if queryShowSources && len(answer.Sources) > 0 {
			fmt.Println("\n参照元ドキュメント:")
			for i, src := range answer.Sources {
				label := ""
				if src.Type != "" {
					label = fmt.Sprintf(" [%s]", src.Type)
				}
				fmt.Printf("  [%d] %s (%s) score=%.3f%s\n", i+1, src.Name, src.Source, src.Score, label)
			}
		}
		return nil
	},
}

func newTextEngine(app *app) (*rag.Engine, error) {
	gen, err := provider.NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Ollama.LLMModel)
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(app.embedder, app.store)
	if err != nil {
		return nil, err
	}
	return rag.NewEngine(retriever, gen, cfg.Search.MaxHistory)
}

func newMultimodalEngine(ctx context.Context, app *app) (*rag.MultimodalEngine, error) {
	gen, err := provider.NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Ollama.MultimodalLLMModel)
	if err != nil {
		return nil, err
	}
	return rag.NewMultimodalEngine(ctx, app.embedder, app.store, gen,
		cfg.Ollama.MultimodalLLMModel, cfg.Search.MaxHistory,
		cfg.Multimodal.TextWeight, cfg.Multimodal.ImageWeight)
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "maximum number of context chunks (default from config)")
	queryCmd.Flags().BoolVar(&queryShowSources, "sources", false, "show source documents")
	queryCmd.Flags().StringArrayVar(&queryImagePaths, "image", nil, "attach an image file to the question (repeatable)")
	queryCmd.Flags().BoolVar(&queryMultimodal, "multimodal", false, "retrieve over both text and images")
	RootCmd.AddCommand(queryCmd)
}
