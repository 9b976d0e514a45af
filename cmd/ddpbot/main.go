package main

import (
	"os"

	"github.com/luciancaetano/ddpbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
