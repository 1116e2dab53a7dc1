package main

import (
	"fmt"
	"os"

	"github.com/UpRoot-Company/uprootmcp/cmd/uprootmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
