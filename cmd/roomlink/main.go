package main

import "github.com/roomlink/roomlink/internal/cli"

func main() {
	cli.Execute()
}
