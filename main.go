// The main package for the veilleur executable.
package main

import (
	"github.com/veilleur-project/veilleur/cmd"
)

func main() {
	cmd.Execute()
}
