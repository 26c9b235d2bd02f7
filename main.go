// The main package for the journal-harvester executable.
package main

import (
	"github.com/JakeFAU/journal-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
