package main

import "commissiond/internal/cli"

func main() {
	cli.Execute()
}
