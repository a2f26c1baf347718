package main

import (
	"context"
	"fmt"
	"os"

	"poetry-feed/pkg/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
