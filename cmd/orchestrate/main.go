package main

import (
	"flag"
	"fmt"
	"os"
)

// CLI flags parsed from command line.
type cliFlags struct {
	ProjectRoot string
	Init        bool
	Force       bool
	Run         string
	Status      bool
	Ceremony    string
	Abort       string
	Reason      string
	Export      string
	Diagram     string
	ServeHTTP   bool
	ServeMCP    bool
	Addr        string
	Verbose     bool
	Version     bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("orchestrate", flag.ContinueOnError)
	fs.StringVar(&flags.ProjectRoot, "project-root", ".", "path to the target project")
	fs.BoolVar(&flags.Init, "init", false, "install starter config and MCP wiring into the project")
	fs.BoolVar(&flags.Force, "force", false, "overwrite existing files during --init")
	fs.StringVar(&flags.Run, "run", "", "run the ceremony described by the given request file")
	fs.BoolVar(&flags.Status, "status", false, "show ceremony status")
	fs.StringVar(&flags.Ceremony, "ceremony", "", "restrict --status to one ceremony id")
	fs.StringVar(&flags.Abort, "abort", "", "abort the given ceremony")
	fs.StringVar(&flags.Reason, "reason", "", "note recorded with --abort")
	fs.StringVar(&flags.Export, "export", "", "print the given ceremony as JSON")
	fs.StringVar(&flags.Diagram, "diagram", "", "print the given ceremony's task DAG as Mermaid")
	fs.BoolVar(&flags.ServeHTTP, "serve-http", false, "serve the convener API over HTTP")
	fs.BoolVar(&flags.ServeMCP, "serve-mcp", false, "run as MCP server on stdio")
	fs.StringVar(&flags.Addr, "addr", "", "listen address for --serve-http (overrides config)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable per-attempt progress output")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	switch {
	case flags.Init:
		return runInit(flags.ProjectRoot, flags.Force)
	case flags.Run != "":
		return runCeremony(flags)
	case flags.Abort != "":
		return runAbort(flags)
	case flags.Export != "":
		return runExport(flags)
	case flags.Diagram != "":
		return runDiagram(flags)
	case flags.Status:
		return runStatus(flags)
	case flags.ServeMCP:
		return runServeMCP(flags)
	case flags.ServeHTTP:
		return runServeHTTP(flags)
	}

	fs.Usage()
	return nil
}
