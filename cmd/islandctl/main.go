package main

import "github.com/mcoot/islandgame/internal/cli"

func main() {
	cli.Execute()
}
