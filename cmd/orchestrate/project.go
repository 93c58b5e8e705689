package main

import (
	"fmt"
	"path/filepath"

	"github.com/dusk-indust/orchestrate/internal/config"
	"github.com/dusk-indust/orchestrate/internal/convener"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
	"github.com/dusk-indust/orchestrate/internal/worker"
)

// Default locations under the project root.
const (
	defaultLedgerDir    = ".orchestrate/ledgers"
	defaultWorkspaceDir = ".orchestrate/work"
	defaultHTTPAddr     = ":8377"
)

// project is the resolved runtime environment for one invocation: the
// absolute project root plus whatever orchestrate.yml provided.
type project struct {
	root string
	cfg  *config.ProjectConfig
}

func loadProject(root string) (*project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	return &project{root: abs, cfg: cfg}, nil
}

// resolve joins a configured path with the project root, leaving absolute
// paths alone.
func (p *project) resolve(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root, path)
}

func (p *project) ledgerDir() string    { return p.resolve(p.cfg.LedgerDir, defaultLedgerDir) }
func (p *project) workspaceDir() string { return p.resolve(p.cfg.WorkspaceDir, defaultWorkspaceDir) }

func (p *project) httpAddr(override string) string {
	if override != "" {
		return override
	}
	if p.cfg.HTTPAddr != "" {
		return p.cfg.HTTPAddr
	}
	return defaultHTTPAddr
}

// maxRetries maps the optional config field onto the orchestrator default.
// An explicit zero means no retries.
func (p *project) maxRetries() int {
	if p.cfg.MaxRetries != nil {
		return *p.cfg.MaxRetries
	}
	return orchestrator.DefaultMaxRetries
}

func (p *project) timeouts() orchestrator.Timeouts {
	return orchestrator.Timeouts{
		High:   p.cfg.TaskTimeouts.High.Std(),
		Medium: p.cfg.TaskTimeouts.Medium.Std(),
		Low:    p.cfg.TaskTimeouts.Low.Std(),
	}
}

// registryFactory builds the per-ceremony worker registry: the configured
// process command for regular tasks, the built-in synthesis worker for the
// closing task.
func (p *project) registryFactory() convener.RegistryFactory {
	return func(store ledger.Store) *worker.Registry {
		reg := worker.NewRegistry(worker.KindProcess)
		reg.Register(worker.KindProcess, func() worker.Worker {
			return &worker.ProcessWorker{
				Command: p.cfg.Worker.Command,
				Args:    p.cfg.Worker.Args,
			}
		})
		reg.Register(worker.KindSynthesis, func() worker.Worker {
			return worker.NewSynthesisWorker(store)
		})
		return reg
	}
}

// controllerConfig assembles the orchestrator config for one ceremony run.
func (p *project) controllerConfig(ledgerPath, ceremonyID string, verbose bool) orchestrator.Config {
	return orchestrator.Config{
		LedgerPath:   ledgerPath,
		WorkspaceDir: filepath.Join(p.workspaceDir(), ceremonyID),
		Concurrency:  p.cfg.Concurrency,
		MaxRetries:   p.maxRetries(),
		PollInterval: p.cfg.PollInterval.Std(),
		Timeouts:     p.timeouts(),
		Verbose:      verbose || p.cfg.Verbose,
	}
}

// serviceConfig assembles the convener service config for the serve modes.
func (p *project) serviceConfig() convener.ServiceConfig {
	return convener.ServiceConfig{
		LedgerDir:    p.ledgerDir(),
		WorkspaceDir: p.workspaceDir(),
		Concurrency:  p.cfg.Concurrency,
		MaxRetries:   p.maxRetries(),
		PollInterval: p.cfg.PollInterval.Std(),
		Timeouts:     p.timeouts(),
		Registry:     p.registryFactory(),
	}
}
