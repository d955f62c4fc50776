// Package main starts the freightdesk ops service process lifecycle.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	opscmd "github.com/louisbranch/freightdesk/internal/cmd/ops"
	"github.com/louisbranch/freightdesk/internal/platform/config"
)

func main() {
	cfg, err := opscmd.ParseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[OPS] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := opscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
