// The main package for the storefront executable.
package main

import "github.com/neorise/storefront/cmd"

func main() {
	cmd.Execute()
}
