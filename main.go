// The main package for the pypiharvest executable.
package main

import (
	"github.com/JakeFAU/pypi-harvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
