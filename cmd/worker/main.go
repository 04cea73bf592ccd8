package main

import (
	"packet-rpc/cmd/worker/commands"
)

// Version and BuildTime are filled in at build time with -ldflags "-X main.Version=..."
var (
	Version   = "N/A"
	BuildTime = "N/A"
)

func main() {
	commands.Version = Version
	commands.BuildTime = BuildTime
	commands.Execute()
}
