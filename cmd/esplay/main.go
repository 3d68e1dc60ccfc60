// Package main is the entry point for the esplay application.
package main

import (
	"os"

	"github.com/jmylchreest/esplay/cmd/esplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
