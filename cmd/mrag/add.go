package mrag

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	addCaption string
	addTags    []string
)

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a document, an image, or a directory of both",
	Long: `Add a file to the knowledge base. Text files (.txt, .md, .pdf) are
chunked and embedded; image files are captioned by the vision model and
indexed through the caption embedding. A directory adds every supported
file directly under it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		path := args[0]
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			res := app.docs.AddDirectory(ctx, path)
			if !res.Success {
				return failure(res.Error, res.Message)
			}
			fmt.Printf("✓ %s\n", res.Message)
			for _, added := range res.Added {
				if added.ItemType == "image" {
					fmt.Printf("  [画像] %s (%s)\n", added.FileName, added.ImageID)
				} else {
					fmt.Printf("  [文書] %s (%s, %dチャンク)\n", added.DocumentName, added.DocumentID, added.ChunkCount)
				}
			}
			return nil
		}

		res := app.docs.AddFile(ctx, path, addCaption, addTags)
		if !res.Success {
			return failure(res.Error, res.Message)
		}

		fmt.Printf("✓ %s\n", res.Message)
		if res.ItemType == "image" {
			fmt.Printf("  ID: %s\n", res.ImageID)
			fmt.Printf("  キャプション: %s\n", res.Caption)
			if len(res.Tags) > 0 {
				fmt.Printf("  タグ: %v\n", res.Tags)
			}
		} else {
			fmt.Printf("  ID: %s\n", res.DocumentID)
			fmt.Printf("  チャンク数: %d\n", res.ChunkCount)
			fmt.Printf("  文字数: %d\n", res.TotalSize)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addCaption, "caption", "", "caption for an image (skips auto-captioning)")
	addCmd.Flags().StringSliceVar(&addTags, "tags", nil, "tags for an image (comma separated)")
	RootCmd.AddCommand(addCmd)
}
