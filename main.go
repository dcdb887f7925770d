package main

import (
	"github.com/praetorian-inc/entrascope/cmd"
)

func main() {
	cmd.Execute()
}
