package main

import (
	"errors"
	"log"
	"os"

	"github.com/strongdm/contain-agent/internal/launcher"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	launcher.SetBuildInfo(version, commit, buildDate)
	if err := launcher.Main(os.Args); err != nil {
		var exitErr *launcher.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		log.Fatal(err)
	}
}
