package main

import "github.com/bryanchriswhite/kwinidle/cmd/kwinidle/commands"

func main() {
	commands.Execute()
}
