package main

import "github.com/turnpikehq/turnpike/cmd"

func main() {
	cmd.Execute()
}
