package main

import (
	"os"

	"github.com/dmitrymomot/tokengate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
