// The main package for the gentlevisitor executable.
package main

import "github.com/JakeFAU/gentlevisitor/cmd"

func main() {
	cmd.Execute()
}
