package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/mulgadc/vpcctl/cmd/vpcctl/cmd"
)

func main() {
	cmd.Execute()
}
