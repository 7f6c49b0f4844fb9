package main

import (
	"os"

	"github.com/tiermem/tiermem-go/pkg/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
