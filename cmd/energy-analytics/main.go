package main

import (
	"github.com/enersight/energy-analytics/cmd"
)

func main() {
	cmd.Execute()
}
