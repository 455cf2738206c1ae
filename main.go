package main

import "alarm-engine/internal/cli"

func main() {
	cli.Execute()
}
