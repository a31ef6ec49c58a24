package mrag

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listLimit    int
	listNoImages bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered documents and images",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		res := app.docs.ListDocuments(ctx, listLimit, !listNoImages)
		if !res.Success {
			return failure(res.Error, res.Message)
		}

		if len(res.Documents) > 0 {
			fmt.Println("テキストドキュメント:")
			for _, doc := range res.Documents {
				fmt.Printf("  %-16s  %-30s  %3dチャンク  %s\n",
					doc.DocumentID, doc.DocumentName, doc.ChunkCount, doc.DocType)
			}
		}

		if len(res.Images) > 0 {
			fmt.Println("画像:")
			for _, img := range res.Images {
				fmt.Printf("  %-16s  %-30s  %s\n", img.ID, img.FileName, truncate(img.Caption, 50))
			}
		}

		fmt.Println(res.Message)
		return nil
	},
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of entries per modality (0 = all)")
	listCmd.Flags().BoolVar(&listNoImages, "no-images", false, "list text documents only")
	RootCmd.AddCommand(listCmd)
}
