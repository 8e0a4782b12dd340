package main

import "github.com/notargets/cfdrun/cmd"

func main() {
	cmd.Execute()
}
