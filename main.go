// Package main is the entry point for the affiliate-crawler executable.
package main

import "github.com/JakeFAU/affiliate-crawler/cmd"

func main() {
	cmd.Execute()
}
