// Package main is the entry point for the moviecrawler binary.
package main

import "github.com/movieapp/moviecache-crawler/cmd"

func main() {
	cmd.Execute()
}
