package main

import "safemesh/cmd/agent/cmd"

func main() {
	cmd.Execute()
}
