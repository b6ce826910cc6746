// Command stylizer converts and optimizes style-transfer models.
package main

import (
	"fmt"
	"os"

	"github.com/stylizer-ml/stylizer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
