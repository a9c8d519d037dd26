package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"glyph-ide/internal/domain"
	"glyph-ide/internal/extension/wasm"
	"glyph-ide/internal/infra/tracer"
	"glyph-ide/internal/security"
)

// SandboxLimits are the per-instance resource bounds applied at
// activation.
type SandboxLimits struct {
	MaxMemoryMB int
	ExecTimeout time.Duration
}

// ControllerOptions wires a Controller.
type ControllerOptions struct {
	ExtensionsRoot string
	StorageRoot    string
	Limits         SandboxLimits

	Registry  *Registry
	Perms     *Store
	Workspace *security.Workspace
	Bus       domain.EventBus
	Fetcher   *wasm.Fetcher
	Logger    *slog.Logger
}

// Controller drives the extension lifecycle: install, activate,
// deactivate, uninstall, and the permission operations that interact
// with it. All transitions for one extension serialize on a per-ID lock;
// different extensions proceed concurrently.
type Controller struct {
	extensionsRoot string
	storageRoot    string
	limits         SandboxLimits

	registry  *Registry
	perms     *Store
	workspace *security.Workspace
	bus       domain.EventBus
	fetcher   *wasm.Fetcher
	logger    *slog.Logger

	locks sync.Map // extension ID -> *sync.Mutex
}

// NewController builds a Controller from its options.
func NewController(opts ControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		extensionsRoot: opts.ExtensionsRoot,
		storageRoot:    opts.StorageRoot,
		limits:         opts.Limits,
		registry:       opts.Registry,
		perms:          opts.Perms,
		workspace:      opts.Workspace,
		bus:            opts.Bus,
		fetcher:        opts.Fetcher,
		logger:         logger,
	}
}

func (c *Controller) lock(id string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Install validates a local extension package and copies it into the
// extensions root. The new extension starts in StateInstalled with every
// declared permission ungranted.
func (c *Controller) Install(ctx context.Context, packageDir string) (string, error) {
	const op = "extension.Install"

	manifest, err := LoadManifest(packageDir)
	if err != nil {
		return "", err
	}
	id := ExtensionID(manifest)

	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if _, exists := c.registry.Get(id); exists {
		return "", domain.WrapOp(op, fmt.Errorf("%w: extension %s", domain.ErrDuplicate, id))
	}

	installPath := filepath.Join(c.extensionsRoot, id)
	if err := copyDir(packageDir, installPath); err != nil {
		os.RemoveAll(installPath)
		return "", domain.WrapOp(op, err)
	}

	if err := c.perms.Declare(id, manifest.Permissions); err != nil {
		os.RemoveAll(installPath)
		return "", domain.WrapOp(op, err)
	}

	c.registry.Put(NewInstance(id, manifest, installPath))
	c.logger.Info("extension installed", "extension", id, "version", manifest.Version)
	c.publish(ctx, domain.EventExtensionInstalled, id, map[string]any{
		"version":     manifest.Version,
		"permissions": manifest.Permissions,
	})
	return id, nil
}

// LoadInstalled scans the extensions root and registers every valid
// extension found there in StateInstalled. Directories with broken
// manifests are logged and skipped, not fatal.
func (c *Controller) LoadInstalled(ctx context.Context) error {
	entries, err := os.ReadDir(c.extensionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.WrapOp("extension.LoadInstalled", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(c.extensionsRoot, entry.Name())
		manifest, err := LoadManifest(dir)
		if err != nil {
			c.logger.Warn("skipping invalid extension directory", "dir", entry.Name(), "error", err)
			continue
		}
		id := ExtensionID(manifest)
		if id != entry.Name() {
			c.logger.Warn("skipping extension directory with mismatched name",
				"dir", entry.Name(), "manifest_id", id)
			continue
		}
		if err := c.perms.Declare(id, manifest.Permissions); err != nil {
			c.logger.Warn("permission reconcile failed", "extension", id, "error", err)
			continue
		}
		c.registry.Put(NewInstance(id, manifest, dir))
	}
	return nil
}

// Activate brings an installed extension into a running sandbox in
// response to a trigger event ("onStartup", "onCommand:<id>", ...). It
// refuses when any declared permission is ungranted; nothing about the
// instance changes in that case. Activating an already activated
// extension is a no-op, and an extension in StateError stays down until
// reinstalled.
func (c *Controller) Activate(ctx context.Context, id, event string) error {
	const op = "extension.Activate"

	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	inst, ok := c.registry.Get(id)
	if !ok {
		return domain.WrapOp(op, fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	switch inst.State() {
	case domain.StateActivated:
		return nil
	case domain.StateError:
		return domain.WrapOp(op,
			fmt.Errorf("%w: extension %s is broken and must be reinstalled: %v",
				domain.ErrSandboxInstantiation, id, inst.LastError()))
	}

	if missing := c.perms.Missing(id); len(missing) > 0 {
		return domain.WrapOp(op,
			fmt.Errorf("%w: %s", domain.ErrMissingPermissions, strings.Join(missing, ", ")))
	}

	ctx, span := tracer.StartSpan(ctx, "extension.activate",
		trace.WithAttributes(
			attribute.String("extension.id", id),
			attribute.String("activation.event", event),
		))
	defer span.End()

	sb, err := c.makeSandbox(inst)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp(op, err)
	}

	wasmBytes, err := os.ReadFile(filepath.Join(inst.InstallPath, filepath.Clean(inst.Manifest.Main)))
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp(op, err)
	}

	env := &wasm.Env{
		ExtensionID: id,
		Version:     inst.Manifest.Version,
		StoragePath: sb.StorageDir,
		Perms:       c.perms,
		Commands:    registrarFunc(c.commandSink(inst)),
		Workspace:   c.workspace,
		Bus:         c.bus,
		Fetcher:     c.fetcher,
		Logger:      c.logger,
	}

	guest, err := wasm.Instantiate(ctx, wasmBytes, wasm.InstanceOptions{
		ExtensionID: id,
		WasmPath:    inst.Manifest.Main,
		Sandbox:     sb,
		Env:         env,
		Logger:      c.logger,
	})
	if err != nil {
		// A module without linear memory can never exchange data with
		// the host; only a corrected reinstall fixes that. Every other
		// instantiation failure leaves the state alone so the
		// activation can be retried.
		if errors.Is(err, wasm.ErrNoExportedMemory) {
			inst.SetState(domain.StateError, err)
		}
		tracer.RecordError(span, err)
		c.publish(ctx, domain.EventExtensionError, id, map[string]any{"error": err.Error()})
		return domain.WrapOp(op, err)
	}

	if err := guest.CallActivate(ctx); err != nil {
		guest.Close(ctx)
		inst.ClearCommands()
		tracer.RecordError(span, err)
		c.publish(ctx, domain.EventExtensionError, id, map[string]any{"error": err.Error()})
		return domain.WrapOp(op, err)
	}

	inst.SetSandbox(guest)
	inst.SetState(domain.StateActivated, nil)
	c.logger.Info("extension activated", "extension", id, "event", event)
	c.publish(ctx, domain.EventExtensionActivated, id, map[string]any{"event": event})
	return nil
}

// Deactivate stops a running extension. Anything other than
// StateActivated is a no-op.
func (c *Controller) Deactivate(ctx context.Context, id string) error {
	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	inst, ok := c.registry.Get(id)
	if !ok {
		return domain.WrapOp("extension.Deactivate", fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	c.deactivateLocked(ctx, inst)
	return nil
}

// deactivateLocked tears the guest down. The guest's deactivate hook is
// best-effort: its failure is logged, never propagated, and never blocks
// the teardown.
func (c *Controller) deactivateLocked(ctx context.Context, inst *Instance) {
	if inst.State() != domain.StateActivated {
		return
	}
	guest := inst.Sandbox()
	if guest != nil {
		if err := guest.CallDeactivate(ctx); err != nil {
			c.logger.Warn("deactivate hook failed", "extension", inst.ID, "error", err)
		}
		guest.Close(ctx)
	}
	inst.SetSandbox(nil)
	inst.ClearCommands()
	inst.SetState(domain.StateDeactivated, nil)
	c.logger.Info("extension deactivated", "extension", inst.ID)
	c.publish(ctx, domain.EventExtensionDeactivated, inst.ID, nil)
}

// Uninstall removes an extension entirely: forced deactivation, install
// directory, private storage, and all permission records.
func (c *Controller) Uninstall(ctx context.Context, id string) error {
	const op = "extension.Uninstall"

	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	inst, ok := c.registry.Get(id)
	if !ok {
		return domain.WrapOp(op, fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	c.deactivateLocked(ctx, inst)

	if err := os.RemoveAll(inst.InstallPath); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := os.RemoveAll(filepath.Join(c.storageRoot, id)); err != nil {
		c.logger.Warn("storage cleanup failed", "extension", id, "error", err)
	}
	if err := c.perms.Remove(id); err != nil {
		return domain.WrapOp(op, err)
	}
	if c.fetcher != nil {
		c.fetcher.Forget(id)
	}
	c.registry.Remove(id)
	c.locks.Delete(id)

	c.logger.Info("extension uninstalled", "extension", id)
	c.publish(ctx, domain.EventExtensionUninstalled, id, nil)
	return nil
}

// GrantPermission grants one declared permission.
func (c *Controller) GrantPermission(ctx context.Context, id, permission string) error {
	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := c.registry.Get(id); !ok {
		return domain.WrapOp("extension.GrantPermission", fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	if err := c.perms.Grant(id, permission); err != nil {
		return err
	}
	c.publish(ctx, domain.EventPermissionGranted, id, map[string]any{"permission": permission})
	return nil
}

// RevokePermission withdraws a grant. A running extension is forcibly
// deactivated: its sandbox was built with the old grant set and must not
// keep capabilities the user just removed.
func (c *Controller) RevokePermission(ctx context.Context, id, permission string) error {
	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	inst, ok := c.registry.Get(id)
	if !ok {
		return domain.WrapOp("extension.RevokePermission", fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	if err := c.perms.Revoke(id, permission); err != nil {
		return err
	}
	c.publish(ctx, domain.EventPermissionRevoked, id, map[string]any{"permission": permission})
	c.deactivateLocked(ctx, inst)
	return nil
}

// Get looks up an installed extension.
func (c *Controller) Get(id string) (*Instance, bool) {
	return c.registry.Get(id)
}

// List returns installed extensions sorted by ID.
func (c *Controller) List() []*Instance {
	return c.registry.List()
}

// Permissions lists the declared permissions and decisions for display.
func (c *Controller) Permissions(id string) ([]domain.PermissionGrant, error) {
	if _, ok := c.registry.Get(id); !ok {
		return nil, domain.WrapOp("extension.Permissions", fmt.Errorf("%w: extension %s", domain.ErrNotFound, id))
	}
	return c.perms.Grants(id), nil
}

// SetWorkspaceRoot re-points the workspace. Host-bridge filesystem calls
// pick the new root up immediately; WASI preopens of running guests keep
// the old root until their next activation.
func (c *Controller) SetWorkspaceRoot(root string) error {
	return c.workspace.SetRoot(root)
}

// makeSandbox assembles the sandbox mounts from the current grant set.
// Directories for ungranted capabilities are simply absent.
func (c *Controller) makeSandbox(inst *Instance) (wasm.Sandbox, error) {
	sb := wasm.Sandbox{
		InstallDir:  inst.InstallPath,
		MaxMemoryMB: c.limits.MaxMemoryMB,
		ExecTimeout: c.limits.ExecTimeout,
	}

	if c.perms.IsGranted(inst.ID, domain.PermStorageLocal) {
		dir := filepath.Join(c.storageRoot, inst.ID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return wasm.Sandbox{}, err
		}
		sb.StorageDir = dir
	}
	if c.perms.IsGranted(inst.ID, domain.PermWorkspaceRead) {
		sb.WorkspaceDir = c.workspace.Root()
	}
	return sb, nil
}

// commandSink accepts registrations from one running guest, rejecting
// IDs already owned by another activated extension.
func (c *Controller) commandSink(inst *Instance) func(domain.RegisteredCommand) error {
	return func(cmd domain.RegisteredCommand) error {
		for _, other := range c.registry.List() {
			if other.ID == inst.ID {
				continue
			}
			if _, taken := other.Command(cmd.ID); taken {
				return fmt.Errorf("%w: command %q already registered by %s", domain.ErrDuplicate, cmd.ID, other.ID)
			}
		}
		inst.AddCommand(cmd)
		return nil
	}
}

// registrarFunc adapts a function to wasm.CommandRegistrar.
type registrarFunc func(domain.RegisteredCommand) error

func (f registrarFunc) Register(cmd domain.RegisteredCommand) error { return f(cmd) }

func (c *Controller) publish(ctx context.Context, eventType domain.EventType, id string, payload any) {
	if c.bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("marshal event payload", "type", string(eventType), "error", err)
			return
		}
		raw = data
	}
	c.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Extension: id,
		Payload:   raw,
	})
}

// copyDir copies a package tree, rejecting symlinks so an install can
// never smuggle references outside its own directory.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			return fmt.Errorf("%w: symlink %q in package", domain.ErrValidation, rel)
		case info.IsDir():
			return os.MkdirAll(target, 0o755)
		case !info.Mode().IsRegular():
			return fmt.Errorf("%w: irregular file %q in package", domain.ErrValidation, rel)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
