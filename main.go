package main

import (
	"os"

	"github.com/groengemak/solgrid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
