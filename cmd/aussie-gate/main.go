package main

import "github.com/Aussie-Gate/Aussiegate/cmd/aussie-gate/cmd"

func main() {
	cmd.Execute()
}
