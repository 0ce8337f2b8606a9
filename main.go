package main

import (
	cli "github.com/exobuild/prereq/cmd/prereq"
)

func main() {
	cli.Run()
}
