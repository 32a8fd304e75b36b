package main

import "github.com/jmcleod/donorhub/cmd/donorhub/cmd"

func main() {
	cmd.Execute()
}
