package main

import "github.com/jmehdipour/room-slots/cmd"

func main() {
	cmd.Execute()
}
