package main

import (
	"fmt"
	"os"

	"github.com/koopa0/ragserver/cmd"
	"github.com/koopa0/ragserver/internal/apperr"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(apperr.ExitCode(err))
}
