// Package main starts the collaborative editor service and handles
// termination.
//
// The process serves uploads, downloads and the editor WebSocket over one
// HTTP listener; document state lives only in this process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	editorcmd "github.com/louisbranch/officecollab/internal/cmd/editor"
	"github.com/louisbranch/officecollab/internal/platform/config"
)

func main() {
	cfg, err := editorcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[EDITOR] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := editorcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
