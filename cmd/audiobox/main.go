// Command audiobox はaudioboxのAPIサーバー・ワーカー・マイグレーションを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/audiobox/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "audiobox: %v\n", err)
		os.Exit(1)
	}
}
