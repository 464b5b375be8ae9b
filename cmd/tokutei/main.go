package main

import (
	"fmt"
	"os"

	"github.com/tokutei-learning/tokutei/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
