package main

import (
	"context"
	"os"

	"github.com/pheyse/FileSystemFacade-sub001/internal/cli"
)

func main() {
	if err := cli.New().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
