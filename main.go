package main

import "github.com/jeebuscrossaint/ass/cmd"

func main() {
	cmd.Execute()
}
