package main

import "poolwatcher/internal/cli"

func main() {
	cli.Execute()
}
