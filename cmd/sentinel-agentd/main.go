// Package main is the entry point for the sentinel-agentd daemon.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/sentinel-agent/internal/agentd"
)

func main() {
	agentd.NewApp().Run()
}
