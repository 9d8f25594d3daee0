package main

import "southwinds.dev/carcode/cli/cmd"

func main() {
	cmd.Execute()
}
