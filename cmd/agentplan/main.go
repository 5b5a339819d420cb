package main

import (
	"fmt"
	"os"

	"github.com/example/agentplan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentplan: %v\n", err)
		os.Exit(1)
	}
}
