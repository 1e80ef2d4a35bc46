package main

import (
	"github.com/oasisprotocol/chainview/cmd"
)

func main() {
	cmd.Execute()
}
