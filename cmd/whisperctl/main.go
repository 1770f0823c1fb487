package main

import (
	"fmt"
	"os"

	"whisper-desk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "whisperctl:", err)
		os.Exit(1)
	}
}
