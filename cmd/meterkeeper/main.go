package main

import (
	"os"

	"github.com/solatis/meterkeeper/cmd/meterkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
