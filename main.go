// mailforge builds HTML emails from layouts, partials and Sass.
package main

import (
	"os"

	"github.com/joeblew999/plat-mailforge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
