// Command learnify は学習ロードマップと詳細コースを生成・保存するAPIサーバーとワーカー。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/learnify/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "learnify: %v\n", err)
		os.Exit(1)
	}
}
