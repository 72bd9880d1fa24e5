package main

import "github.com/bngesp/MultiCoder/services/coordinator/cli"

func main() {
	cli.Execute()
}
