package main

import "github.com/factline/cli/internal/cmd"

func main() {
	cmd.Execute()
}
