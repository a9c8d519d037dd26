package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"glyph-ide/internal/domain"
)

// ErrNoExportedMemory marks a guest module that links but exports no
// linear memory. Nothing can be marshaled to such a module, so the
// instance is unusable until the extension is reinstalled with a
// corrected build.
var ErrNoExportedMemory = fmt.Errorf("%w: module exports no memory", domain.ErrSandboxInstantiation)

// Well-known guest exports.
const (
	guestInitialize = "_initialize"
	guestActivate   = "activate"
	guestDeactivate = "deactivate"
)

// Instance is one running guest module with its dedicated runtime.
// Each activation gets a fresh runtime; Close tears the whole thing
// down, so no compiled state leaks between activations.
type Instance struct {
	name    string
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex // serializes guest calls; guests are single-threaded
	closed bool
}

// InstanceOptions carries everything needed to bring a guest up.
type InstanceOptions struct {
	ExtensionID string
	WasmPath    string
	Sandbox     Sandbox
	Env         *Env
	Logger      *slog.Logger
}

// Instantiate compiles and starts a guest module inside its sandbox:
// runtime with memory cap and close-on-context-done, WASI preview 1,
// the glyph_v1 host module, then the guest itself. The guest's
// _initialize runs before this returns, so a returned Instance is ready
// for exported calls.
func Instantiate(ctx context.Context, wasmBytes []byte, opts InstanceOptions) (*Instance, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(opts.Sandbox.MemoryPages())
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate",
			fmt.Errorf("%w: wasi: %v", domain.ErrSandboxInstantiation, err))
	}

	hostCompiled, err := RegisterHostFunctions(ctx, rt, opts.Env)
	if err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate", err)
	}
	if _, err := rt.InstantiateModule(ctx, hostCompiled, wazero.NewModuleConfig().WithName(HostModuleName)); err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate",
			fmt.Errorf("%w: host module: %v", domain.ErrSandboxInstantiation, err))
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate",
			fmt.Errorf("%w: compile %s: %v", domain.ErrSandboxInstantiation, filepath.Base(opts.WasmPath), err))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, opts.Sandbox.moduleConfig(opts.ExtensionID))
	if err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate",
			fmt.Errorf("%w: instantiate: %v", domain.ErrSandboxInstantiation, err))
	}

	inst := &Instance{
		name:    opts.ExtensionID,
		runtime: rt,
		module:  mod,
		memory:  mod.ExportedMemory("memory"),
		timeout: opts.Sandbox.execTimeout(),
		logger:  logger,
	}
	if inst.memory == nil {
		inst.Close(ctx)
		return nil, domain.WrapOp("wasm.Instantiate", ErrNoExportedMemory)
	}

	if mod.ExportedFunction(guestInitialize) != nil {
		if _, err := inst.CallExport(ctx, guestInitialize); err != nil {
			inst.Close(ctx)
			return nil, domain.WrapOp("wasm.Instantiate",
				fmt.Errorf("%w: _initialize: %v", domain.ErrSandboxInstantiation, err))
		}
	}

	logger.Debug("guest instantiated",
		"extension", opts.ExtensionID,
		"memory_pages", opts.Sandbox.MemoryPages(),
	)
	return inst, nil
}

// Memory exposes the guest's linear memory for marshaling.
func (i *Instance) Memory() api.Memory { return i.memory }

// Module exposes the underlying module, mainly for allocator lookups.
func (i *Instance) Module() api.Module { return i.module }

// HasExport reports whether the guest exports a function by name.
func (i *Instance) HasExport(name string) bool {
	return i.module.ExportedFunction(name) != nil
}

// CallExport invokes a guest export under the instance's execution
// timeout. A deadline kills the whole module via close-on-context-done;
// the caller sees ErrTimeout and the instance must be discarded.
func (i *Instance) CallExport(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, domain.WrapOp("wasm.CallExport", fmt.Errorf("%w: instance closed", domain.ErrInvalidInput))
	}

	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, domain.WrapOp("wasm.CallExport",
			fmt.Errorf("%w: export %q", domain.ErrNotFound, name))
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	results, err := fn.Call(callCtx, params...)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, domain.WrapOp("wasm.CallExport",
				fmt.Errorf("%w: %s after %s", domain.ErrTimeout, name, i.timeout))
		}
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			return nil, domain.WrapOp("wasm.CallExport",
				fmt.Errorf("guest exited with code %d during %s", exitErr.ExitCode(), name))
		}
		return nil, domain.WrapOp("wasm.CallExport", fmt.Errorf("call %s: %w", name, err))
	}
	return results, nil
}

// CallActivate runs the guest's activate hook if it exports one.
func (i *Instance) CallActivate(ctx context.Context) error {
	if !i.HasExport(guestActivate) {
		return nil
	}
	_, err := i.CallExport(ctx, guestActivate)
	return err
}

// CallDeactivate runs the guest's deactivate hook if it exports one.
func (i *Instance) CallDeactivate(ctx context.Context) error {
	if !i.HasExport(guestDeactivate) {
		return nil
	}
	_, err := i.CallExport(ctx, guestDeactivate)
	return err
}

// WriteString transfers a host string into guest memory via the guest
// allocator, returning the (ptr, len) pair for a subsequent call.
func (i *Instance) WriteString(ctx context.Context, value string) (uint32, uint32, error) {
	return WriteString(ctx, i.module, i.memory, value)
}

// Close tears down the guest and its runtime. Safe to call twice.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	err := i.runtime.Close(ctx)
	if err != nil {
		i.logger.Warn("runtime close", "extension", i.name, "error", err)
	}
	return err
}
