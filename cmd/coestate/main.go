// Command coestate は不動産持分投資バックエンドのCLIクライアント。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/coestate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coestate: %v\n", err)
		os.Exit(1)
	}
}
