// The main package for the scheduler executable.
package main

import "github.com/JakeFAU/visit-scheduler/cmd"

func main() {
	cmd.Execute()
}
