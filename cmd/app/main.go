package main

import (
	"fmt"
	"os"

	"translate-rx/cmd/app/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
