// Command cloudgpt runs the CloudGPT AI gateway.
package main

import (
	"fmt"
	"os"

	"github.com/CloudCompile/cloudgptapi-sub000/cmd/cloudgpt/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
