package main

import (
	"fmt"
	"os"

	"github.com/jwgray1010/Unsaid-sub003/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintln(os.Stderr, "tonectl:", err)
		os.Exit(1)
	}
}
