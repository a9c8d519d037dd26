package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"glyph-ide/internal/domain"
	"glyph-ide/internal/extension"
	"glyph-ide/internal/extension/wasm"
	"glyph-ide/internal/infra/config"
	"glyph-ide/internal/infra/logger"
	"glyph-ide/internal/infra/tracer"
	"glyph-ide/internal/security"
	"glyph-ide/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ext":
		if err := runExt(); err != nil {
			fmt.Fprintf(os.Stderr, "ext: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'glyph --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`glyph - Glyph IDE extension host

USAGE:
    glyph [COMMAND]

COMMANDS:
    ext         Manage extensions
                Subcommands: install, list, info, grant, revoke,
                activate, deactivate, uninstall, exec
    serve       Run the extension host in the foreground

CONFIGURATION:
    Config file: ./glyph.yaml
    Environment: GLYPH_* variables override directory roots

EXAMPLES:
    glyph ext install ./my-extension     # Install a local package
    glyph ext grant acme.fmt workspace:read
    glyph ext activate acme.fmt
    glyph ext exec fmt.document          # Run a registered command`)
}

// app bundles the wired host for CLI commands. Every subcommand builds
// one, does its work, and calls close.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        domain.EventBus
	controller *extension.Controller
	dispatcher *extension.Dispatcher

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func() { closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() { shutdownTracer(context.Background()) })

	bus := eventbus.New(log)
	a.bus = bus
	a.closers = append(a.closers, bus.Close)

	if err := os.MkdirAll(cfg.ExtensionsRoot, 0o755); err != nil {
		a.close()
		return nil, err
	}
	workspace, err := security.NewWorkspace(cfg.WorkspaceRoot)
	if err != nil {
		a.close()
		return nil, err
	}
	perms, err := extension.NewStore(cfg.PermissionsFile, log)
	if err != nil {
		a.close()
		return nil, err
	}

	fetcher := wasm.NewFetcher(wasm.FetcherOptions{
		Timeout:          cfg.Network.FetchTimeout,
		MaxResponseBytes: cfg.Network.MaxResponseBytes,
		RequestsPerMin:   cfg.Network.RequestsPerMinute,
		Burst:            cfg.Network.Burst,
	}, log)

	registry := extension.NewRegistry()
	a.controller = extension.NewController(extension.ControllerOptions{
		ExtensionsRoot: cfg.ExtensionsRoot,
		StorageRoot:    cfg.StorageRoot,
		Limits: extension.SandboxLimits{
			MaxMemoryMB: cfg.Sandbox.MaxMemoryMB,
			ExecTimeout: cfg.Sandbox.ExecTimeout,
		},
		Registry:  registry,
		Perms:     perms,
		Workspace: workspace,
		Bus:       bus,
		Fetcher:   fetcher,
		Logger:    log,
	})
	a.dispatcher = extension.NewDispatcher(registry, bus, a.controller, log)

	if err := a.controller.LoadInstalled(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func configPath() string {
	if v := os.Getenv("GLYPH_CONFIG"); v != "" {
		return v
	}
	return "glyph.yaml"
}
