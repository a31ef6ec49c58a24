package mrag

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/services"
)

var (
	searchTopK        int
	searchImagesOnly  bool
	searchMultimodal  bool
	searchTextWeight  float64
	searchImageWeight float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Long: `Semantic search over the indexed content. By default only text
chunks are searched; --images searches image captions instead, and
--multimodal fuses both modalities with configurable weights.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		if cmd.Flags().Changed("text-weight") {
			cfg.Multimodal.TextWeight = searchTextWeight
		}
		if cmd.Flags().Changed("image-weight") {
			cfg.Multimodal.ImageWeight = searchImageWeight
		}

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		var res services.SearchOutcome
		switch {
		case searchMultimodal:
			res = app.docs.SearchMultimodal(ctx, query, searchTopK)
		case searchImagesOnly:
			res = app.docs.SearchImages(ctx, query, searchTopK)
		default:
			res = app.docs.SearchDocuments(ctx, query, searchTopK)
		}
		if !res.Success {
			return failure(res.Error, res.Message)
		}

		if len(res.Results) == 0 {
			fmt.Println("検索結果はありませんでした。")
			return nil
		}

		for _, hit := range res.Results {
			printHit(hit)
		}
		fmt.Println(res.Message)
		return nil
	},
}

func printHit(hit domain.SearchHit) {
	switch hit.ResultType {
	case domain.ResultTypeImage:
		fmt.Printf("[%d] (%.3f) [画像] %s\n", hit.Rank, hit.Score, hit.DocumentName)
		fmt.Printf("    %s\n", truncate(hit.Caption, 120))
		if hit.ImagePath != "" {
			fmt.Printf("    パス: %s\n", hit.ImagePath)
		}
	default:
		fmt.Printf("[%d] (%.3f) %s\n", hit.Rank, hit.Score, hit.DocumentName)
		fmt.Printf("    %s\n", truncate(strings.ReplaceAll(hit.Chunk.Content, "\n", " "), 120))
	}
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchImagesOnly, "images", false, "search image captions instead of text chunks")
	searchCmd.Flags().BoolVar(&searchMultimodal, "multimodal", false, "fuse text and image results")
	searchCmd.Flags().Float64Var(&searchTextWeight, "text-weight", 0.5, "text score weight for multimodal search")
	searchCmd.Flags().Float64Var(&searchImageWeight, "image-weight", 0.5, "image score weight for multimodal search")
	RootCmd.AddCommand(searchCmd)
}
