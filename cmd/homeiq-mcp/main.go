// Package main provides the homeiq-mcp binary: the homeiq tools over MCP
// stdio for AI agents.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
	"github.com/wtthornton/HomeIQ-sub005/pkg/config"
	hmcp "github.com/wtthornton/HomeIQ-sub005/pkg/mcp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	v := config.NewViper()
	if err := config.ReadFile(v, configPath); err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	a, err := app.New(v, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.ServeMetrics(ctx)

	tools := &hmcp.Tools{Pipeline: a.Pipeline(), Chain: a.Chain()}
	if g, err := a.Generator(); err == nil {
		tools.Generator = g
	} else {
		a.Logger.Info("homeiq/generate disabled", "reason", err)
	}

	return server.ServeStdio(hmcp.NewServer(version, tools))
}
