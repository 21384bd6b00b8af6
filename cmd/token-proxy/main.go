package main

import (
	"os"

	"token-proxy/cli"
)

func main() {
	os.Exit(cli.Main())
}
