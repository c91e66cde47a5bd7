// cmd/mcpdispatch/main.go
package main

import (
	cmd "github.com/mwiater/mcpdispatch/internal/commands"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// main starts the mcpdispatch CLI by delegating to the cobra root command.
func main() {
	cmd.SetVersionInfo(version, commit, date)
	cmd.Execute()
}
