package main

import (
	"github.com/releng-tools/mergewarden/cmd"
)

func main() {
	cmd.Execute()
}
