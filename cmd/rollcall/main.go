package main

import "github.com/rollcall-project/rollcall/cmd"

func main() {
	cmd.Execute()
}
