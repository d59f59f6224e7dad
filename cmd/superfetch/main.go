// Package main is the entry point for the superfetch CLI.
package main

import "github.com/superfetch/superfetch/cmd/superfetch/cmd"

func main() {
	cmd.Execute()
}
