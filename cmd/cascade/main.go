// Package main is the single-binary entrypoint for Cascade.
package main

import "github.com/cascade-app/cascade/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
