package main

import "github.com/latch-sh/latch/cmd/latch/cmd"

func main() {
	cmd.Execute()
}
