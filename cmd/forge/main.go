// Command forge declares, fetches, builds and packages native libraries from
// recipes.
package main

import "github.com/im3e/forge/cmd/forge/internal"

func main() {
	internal.Execute()
}
