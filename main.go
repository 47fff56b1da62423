package main

import (
	"github.com/mirrorlab/sitemirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
