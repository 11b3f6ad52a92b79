package main

import "github.com/downsort/downsort/cmd"

func main() {
	cmd.Execute()
}
