// Package main is the entry point for the focus CLI.
package main

import (
	"os"

	"github.com/runger/focus/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
