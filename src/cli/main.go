package main

import (
	"os"

	"github.com/atseanpaul/build-kernel/src/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
