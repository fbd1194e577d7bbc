// Command insight はキャリア診断APIサーバーと、そのAPIを利用するCLIクライアント。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/insightlab/insight/internal/app"
)

func main() {
	// .envがあれば読み込む。既存の環境変数は上書きしない
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
