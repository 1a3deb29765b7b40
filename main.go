// Package main is the entry point for the jmsr cast receiver.
package main

import (
	"github.com/jmsr-app/jmsr/cmd"
	"github.com/jmsr-app/jmsr/config"
	"github.com/jmsr-app/jmsr/log"
	"github.com/samber/lo"
)

func main() {
	lo.Must0(config.Setup())
	lo.Must0(log.Setup())

	cmd.Execute()
}
