// The main package for the jobstore executable.
package main

import (
	"github.com/JakeFAU/realtime-job-postings/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
