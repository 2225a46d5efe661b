// Command auditworker runs the Auditly scan worker.
package main

import "github.com/lalchand07/Auditly/cmd"

func main() {
	cmd.Execute()
}
