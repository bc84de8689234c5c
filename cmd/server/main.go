package main

import "gamepulse/internal/cli"

func main() {
	cli.Execute()
}
