package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/liliang-cn/mrag/cmd/mrag"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
		fmt.Fprintln(os.Stderr, "\n処理が中断されました")
		os.Exit(130)
	}()

	if err := mrag.RootCmd.ExecuteContext(ctx); err != nil {
		mrag.PrintError(err)
		os.Exit(1)
	}
}
