package main

import "github.com/MeKo-Tech/checkercal/cmd/checkercal/cmd"

func main() {
	cmd.Execute()
}
