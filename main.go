// Package main is the entry point for the frameguard ingress classifier.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/frameguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
