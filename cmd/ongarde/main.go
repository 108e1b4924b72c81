// Package main is the entry point for the OnGarde proxy CLI.
package main

import "github.com/ongarde/ongarde/cmd/ongarde/cmd"

func main() {
	cmd.Execute()
}
