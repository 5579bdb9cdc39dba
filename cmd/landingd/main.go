package main

import (
	"fmt"
	"os"

	"github.com/mozilla-lando/landingd/internal/landingcli"
)

var Version = "dev"

func main() {
	landingcli.SetVersion(Version)
	if err := landingcli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
