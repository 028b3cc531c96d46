package main

import "github.com/coraldb/coral/cmd"

func main() {
	cmd.Execute()
}
