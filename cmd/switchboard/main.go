package main

import (
	"os"

	"github.com/MrSnakeDoc/switchboard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
