// The main package for the exercise-crawler executable.
package main

import (
	"github.com/JakeFAU/exercise-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
