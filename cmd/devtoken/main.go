// Package main prints a signing keypair or a development access token.
package main

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/louisbranch/freightdesk/internal/platform/config"
	"github.com/louisbranch/freightdesk/internal/tools/devtoken"
)

func main() {
	cfg, err := devtoken.ParseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := devtoken.Run(os.Stdout, cfg, nil); err != nil {
		config.Exitf("devtoken: %v", err)
	}
}
