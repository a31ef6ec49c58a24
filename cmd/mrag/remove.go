package mrag

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeType string

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a document or an image by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		res := app.docs.RemoveDocument(ctx, args[0], removeType)
		if !res.Success {
			return failure(res.Error, res.Message)
		}

		fmt.Printf("✓ %s\n", res.Message)
		if res.ItemType == "document" {
			fmt.Printf("  削除チャンク数: %d\n", res.DeletedChunks)
		}
		return nil
	},
}

func init() {
	removeCmd.Flags().StringVar(&removeType, "type", "auto", "item type: document, image or auto")
	RootCmd.AddCommand(removeCmd)
}
