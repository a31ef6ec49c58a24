package mrag

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	clearTextOnly   bool
	clearImagesOnly bool
	clearYes        bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete indexed content",
	Long: `Delete all indexed documents and images. Restrict the wipe with
--text-only or --images-only. Asks for confirmation unless --yes is
given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if clearTextOnly && clearImagesOnly {
			return failure("ConfigError", "--text-only と --images-only は同時に指定できません")
		}
		clearText := !clearImagesOnly
		clearImages := !clearTextOnly

		if !clearYes {
			var target string
			switch {
			case clearTextOnly:
				target = "すべてのテキストドキュメント"
			case clearImagesOnly:
				target = "すべての画像"
			default:
				target = "すべてのドキュメントと画像"
			}
			fmt.Printf("%sを削除します。よろしいですか? [y/N]: ", target)

			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return scanner.Err()
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Println("キャンセルしました。")
				return nil
			}
		}

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		res := app.docs.ClearDocuments(ctx, clearText, clearImages)
		if !res.Success {
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
			return failure("Error", res.Message)
		}

		fmt.Printf("✓ %s\n", res.Message)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearTextOnly, "text-only", false, "delete text documents only")
	clearCmd.Flags().BoolVar(&clearImagesOnly, "images-only", false, "delete images only")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
	RootCmd.AddCommand(clearCmd)
}
