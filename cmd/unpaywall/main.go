// Package main is the entry point of the unpaywall command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/unpaywall-client/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
