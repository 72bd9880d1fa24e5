package main

import "github.com/bngesp/MultiCoder/services/agent/cli"

func main() {
	cli.Execute()
}
