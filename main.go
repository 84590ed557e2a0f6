package main

import (
	"os"

	"github.com/igorsilveira/sqlagent/cmd/sqlagent"
)

func main() {
	if err := sqlagent.Execute(); err != nil {
		os.Exit(1)
	}
}
