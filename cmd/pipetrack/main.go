package main

import (
	"os"

	"github.com/bianoble/pipetrack/cmd/pipetrack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
