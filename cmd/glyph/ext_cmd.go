package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"glyph-ide/internal/domain"
	"glyph-ide/internal/extension"
)

func runExt() error {
	if len(os.Args) < 3 {
		printExtUsage()
		return nil
	}

	switch os.Args[2] {
	case "install":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: glyph ext install <path>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.controller.Install(ctx, os.Args[3])
			if err != nil {
				return err
			}
			fmt.Printf("installed %s\n", id)
			return nil
		})
	case "list":
		return withApp(runExtList)
	case "info":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: glyph ext info <id>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return runExtInfo(a, os.Args[3])
		})
	case "grant":
		if len(os.Args) < 5 {
			return fmt.Errorf("usage: glyph ext grant <id> <permission>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return a.controller.GrantPermission(ctx, os.Args[3], os.Args[4])
		})
	case "revoke":
		if len(os.Args) < 5 {
			return fmt.Errorf("usage: glyph ext revoke <id> <permission>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return a.controller.RevokePermission(ctx, os.Args[3], os.Args[4])
		})
	case "activate":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: glyph ext activate <id>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return a.controller.Activate(ctx, os.Args[3], "onDemand")
		})
	case "deactivate":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: glyph ext deactivate <id>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return a.controller.Deactivate(ctx, os.Args[3])
		})
	case "uninstall":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: glyph ext uninstall <id>")
		}
		return withApp(func(ctx context.Context, a *app) error {
			return a.controller.Uninstall(ctx, os.Args[3])
		})
	case "exec":
		if len(os.Args) < 5 {
			return fmt.Errorf("usage: glyph ext exec <owner-id> <command-id> [json-args]")
		}
		return runExtExec()
	default:
		return fmt.Errorf("unknown ext subcommand: %s\n\nRun 'glyph ext' for usage", os.Args[2])
	}
}

func printExtUsage() {
	fmt.Println(`glyph ext - Extension management

USAGE:
    glyph ext <COMMAND>

COMMANDS:
    install <path>            Install a local extension package
    list                      List installed extensions
    info <id>                 Show manifest and permission decisions
    grant <id> <permission>   Grant a declared permission
    revoke <id> <permission>  Revoke a permission (deactivates if running)
    activate <id>             Activate an installed extension
    deactivate <id>           Deactivate a running extension
    uninstall <id>            Remove an extension and its data
    exec <owner> <cmd> [json] Activate the owner and run a command`)
}

func withApp(fn func(context.Context, *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func runExtList(ctx context.Context, a *app) error {
	instances := a.controller.List()
	if len(instances) == 0 {
		fmt.Println("no extensions installed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tDESCRIPTION")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			inst.ID, inst.Manifest.Version, inst.State(), inst.Manifest.Description)
	}
	return w.Flush()
}

func runExtInfo(a *app, id string) error {
	inst, ok := a.controller.Get(id)
	if !ok {
		return fmt.Errorf("extension %s is not installed", id)
	}

	data, err := json.MarshalIndent(inst.Manifest, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	grants, err := a.controller.Permissions(id)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		fmt.Println("\nno permissions declared")
		return nil
	}

	fmt.Println("\nPERMISSIONS:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERMISSION\tRISK\tGRANTED")
	for _, g := range grants {
		fmt.Fprintf(w, "%s\t%s\t%v\n", g.Permission, extension.RiskLevel(g.Permission), g.Granted)
	}
	return w.Flush()
}

func runExtExec() error {
	return withApp(func(ctx context.Context, a *app) error {
		owner, commandID := os.Args[3], os.Args[4]

		var args map[string]any
		if len(os.Args) > 5 {
			if err := json.Unmarshal([]byte(os.Args[5]), &args); err != nil {
				return fmt.Errorf("args must be a JSON object: %w", err)
			}
		}

		if err := a.controller.Activate(ctx, owner, "onCommand:"+commandID); err != nil {
			return err
		}
		defer a.controller.Deactivate(ctx, owner)

		return a.dispatcher.Execute(ctx, commandID, args)
	})
}

// runServe activates every fully-granted extension and keeps the host
// in the foreground until a signal arrives, printing bus events as they
// happen.
func runServe() error {
	return withApp(func(ctx context.Context, a *app) error {
		unsub := a.bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
			a.logger.Info("event",
				"type", string(event.Type),
				"extension", event.Extension,
			)
		})
		defer unsub()

		for _, inst := range a.controller.List() {
			if !extension.TriggeredBy(inst.Manifest, "onStartup") {
				continue
			}
			if err := a.controller.Activate(ctx, inst.ID, "onStartup"); err != nil {
				a.logger.Warn("startup activation skipped", "extension", inst.ID, "error", err)
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		a.logger.Info("shutting down")

		for _, inst := range a.controller.List() {
			a.controller.Deactivate(ctx, inst.ID)
		}
		return nil
	})
}
