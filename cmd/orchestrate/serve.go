package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dusk-indust/orchestrate/internal/convener"
	"github.com/dusk-indust/orchestrate/internal/mcptools"
)

const shutdownGrace = 10 * time.Second

// runServeHTTP exposes the convener API over HTTP until interrupted.
func runServeHTTP(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := convener.NewService(proj.serviceConfig())
	addr := proj.httpAddr(flags.Addr)

	server := convener.NewServer(serviceCard(addr), svc)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "convener API listening on %s\n", addr)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		return err
	}
	return svc.Shutdown(stopCtx)
}

// runServeMCP runs the ceremony MCP tools on stdio until stdin closes.
func runServeMCP(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := convener.NewService(proj.serviceConfig())
	tools := mcptools.NewCeremonyService(svc, proj.ledgerDir())
	server := mcptools.NewCeremonyMCPServer(tools)

	err = mcptools.RunMCPServerStdio(ctx, server)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := svc.Shutdown(stopCtx); err == nil {
		err = serr
	}
	return err
}

// serviceCard describes this daemon for the well-known discovery endpoint.
func serviceCard(addr string) convener.ServiceCard {
	endpoint := addr
	if strings.HasPrefix(endpoint, ":") {
		endpoint = "localhost" + endpoint
	}
	return convener.ServiceCard{
		Name:         "orchestrate",
		Description:  "Task DAG orchestrator; one markdown ledger per ceremony",
		Version:      version,
		Endpoint:     "http://" + endpoint + "/",
		Capabilities: convener.ServiceCapabilities{Streaming: true},
	}
}
