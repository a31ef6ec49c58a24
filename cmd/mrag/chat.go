package mrag

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/rag"
)

var (
	chatTopK       int
	chatNoSources  bool
	chatMultimodal bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question answering with conversation history",
	Long: `Start a REPL that keeps a bounded conversation history and answers
each message with retrieved context. Type 'exit', 'quit' or 'q' to
leave, 'clear' to reset the history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		ask, clearHistory, err := newChatSession(ctx, app)
		if err != nil {
			return err
		}

		fmt.Println("チャットモードを開始します。")
		fmt.Println("終了するには 'exit'、'quit'、または 'q' を入力してください。")
		fmt.Println("履歴をクリアするには 'clear' を入力してください。")
		fmt.Println()

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("あなた> ")
			if !scanner.Scan() {
				break
			}
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			switch strings.ToLower(input) {
			case "exit", "quit", "q":
				fmt.Println("チャットを終了します。")
				return nil
			case "clear":
				clearHistory()
				fmt.Println("チャット履歴をクリアしました。")
				continue
			}

			answer, err := ask(ctx, input)
			if err != nil {
				PrintError(err)
				continue
			}

			fmt.Printf("\n%s\n", answer.Answer)
			fmt.Printf("（コンテキスト: %d件, 履歴: %dメッセージ）\n", answer.ContextCount, answer.HistoryLength)
			if !chatNoSources && len(answer.Sources) > 0 {
				names := make([]string, 0, len(answer.Sources))
				for _, src := range answer.Sources {
					names = append(names, src.Name)
				}
				fmt.Printf("参照: %s\n", strings.Join(names, ", "))
			}
			fmt.Println()
		}
		return scanner.Err()
	},
}

// newChatSession builds either the text or the multimodal engine and
// returns the per-turn ask function plus a history reset.
func newChatSession(ctx context.Context, app *app) (func(context.Context, string) (*rag.Answer, error), func(), error) {
	if chatMultimodal {
		engine, err := newMultimodalEngine(ctx, app)
		if err != nil {
			return nil, nil, err
		}
		ask := func(ctx context.Context, message string) (*rag.Answer, error) {
			return engine.ChatMultimodal(ctx, message, nil, chatTopK)
		}
		return ask, engine.ClearHistory, nil
	}

	engine, err := newTextEngine(app)
	if err != nil {
		return nil, nil, err
	}
	ask := func(ctx context.Context, message string) (*rag.Answer, error) {
		return engine.Chat(ctx, message, chatTopK, nil)
	}
	return ask, engine.ClearHistory, nil
}

func init() {
	chatCmd.Flags().IntVarP(&chatTopK, "top-k", "k", 0, "maximum number of context chunks per turn (default from config)")
	chatCmd.Flags().BoolVar(&chatNoSources, "no-sources", false, "hide source references")
	chatCmd.Flags().BoolVar(&chatMultimodal, "multimodal", false, "retrieve over both text and images")
	RootCmd.AddCommand(chatCmd)
}
