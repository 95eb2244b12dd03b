package main

import "github.com/skyflo-ai/skyflo/cmd"

func main() {
	cmd.Execute()
}
