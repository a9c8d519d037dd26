package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"glyph-ide/internal/domain"
)

// HostModuleName is the import namespace guests link against.
const HostModuleName = "glyph_v1"

// Sentinel return codes. Host functions never raise into guest code; all
// failure modes — missing permission, scope violation, I/O error — come
// back as hostDenied with no work performed.
const (
	hostOK     = int32(0)
	hostDenied = int32(-1)
)

// Notification levels passed by guests to ui_show_notification.
const (
	NotifyInfo    = int32(0)
	NotifyWarning = int32(1)
	NotifyError   = int32(2)
)

// PermissionChecker answers whether an extension currently holds a grant.
type PermissionChecker interface {
	IsGranted(extensionID, permission string) bool
}

// CommandRegistrar accepts command registrations from a running guest.
type CommandRegistrar interface {
	Register(cmd domain.RegisteredCommand) error
}

// PathResolver confines guest paths to the workspace root.
type PathResolver interface {
	Resolve(path string) (string, error)
}

// Env carries the per-extension dependencies injected into host functions.
// One Env exists per activated instance; it never outlives the instance.
type Env struct {
	ExtensionID string
	Version     string
	StoragePath string

	Perms     PermissionChecker
	Commands  CommandRegistrar
	Workspace PathResolver
	Bus       domain.EventBus
	Fetcher   *Fetcher
	Logger    *slog.Logger
}

// hostFn is one entry of the typed capability table: the function's
// namespace and name, the permission precondition it carries, its wire
// signature, and the marshaling glue.
type hostFn struct {
	namespace  string
	name       string
	permission string // "" = available without any grant
	params     []api.ValueType
	results    []api.ValueType
	impl       api.GoModuleFunc
}

func (f hostFn) exportName() string {
	if f.namespace == "core" {
		return f.name
	}
	return f.namespace + "_" + f.name
}

// gate wraps a table entry's glue with its permission precondition. The
// check runs on EVERY invocation, before any marshaling or I/O; a missing
// grant writes the denied sentinel and performs no work. Because the table
// is the only path to registration, the check cannot be bypassed.
func gate(env *Env, fn hostFn) api.GoModuleFunc {
	return api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		if fn.permission != "" && !env.Perms.IsGranted(env.ExtensionID, fn.permission) {
			env.Logger.Debug("host call denied",
				"fn", fn.exportName(),
				"permission", fn.permission,
			)
			if len(fn.results) > 0 {
				stack[0] = api.EncodeI32(hostDenied)
			}
			return
		}
		fn.impl(ctx, mod, stack)
	})
}

// RegisterHostFunctions compiles the glyph_v1 host module for one
// extension instance. Every entry is registered gated; nothing in the
// table is reachable without passing its precondition.
func RegisterHostFunctions(ctx context.Context, rt wazero.Runtime, env *Env) (wazero.CompiledModule, error) {
	builder := rt.NewHostModuleBuilder(HostModuleName)
	for _, fn := range env.functions() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(gate(env, fn), fn.params, fn.results).
			Export(fn.exportName())
	}

	compiled, err := builder.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile host module: %v", domain.ErrSandboxInstantiation, err)
	}
	return compiled, nil
}

// functions builds the capability table. Grouped by namespace:
// core (ungated logging/introspection), storage, ui, cmd, fs, net.
func (e *Env) functions() []hostFn {
	i32 := api.ValueTypeI32
	return []hostFn{
		// core: always available.
		{
			namespace: "core", name: "log",
			params: []api.ValueType{i32, i32, i32},
			impl:   e.logImpl,
		},
		{
			namespace: "core", name: "get_extension_id",
			params: []api.ValueType{i32}, results: []api.ValueType{i32},
			impl: e.outStringImpl(func() string { return e.ExtensionID }),
		},
		{
			namespace: "core", name: "get_extension_version",
			params: []api.ValueType{i32}, results: []api.ValueType{i32},
			impl: e.outStringImpl(func() string { return e.Version }),
		},

		// storage: gated introspection of the private storage mount.
		{
			namespace: "storage", name: "get_path",
			permission: domain.PermStorageLocal,
			params:     []api.ValueType{i32}, results: []api.ValueType{i32},
			impl: e.outStringImpl(func() string { return MountStorage }),
		},

		// ui: notifications and status bar.
		{
			namespace: "ui", name: "show_notification",
			permission: domain.PermUINotifications,
			params:     []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.notificationImpl,
		},
		{
			namespace: "ui", name: "set_status_bar",
			permission: domain.PermUINotifications,
			params:     []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			impl: e.statusBarImpl,
		},

		// cmd: command registration.
		{
			namespace: "cmd", name: "register",
			permission: domain.PermUICommands,
			params:     []api.ValueType{i32, i32, i32, i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.registerCommandImpl,
		},

		// fs: workspace-scoped filesystem operations.
		{
			namespace: "fs", name: "read_file",
			permission: domain.PermWorkspaceRead,
			params:     []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.readFileImpl,
		},
		{
			namespace: "fs", name: "read_dir",
			permission: domain.PermWorkspaceRead,
			params:     []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.readDirImpl,
		},
		{
			namespace: "fs", name: "write_file",
			permission: domain.PermWorkspaceWrite,
			params:     []api.ValueType{i32, i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.writeFileImpl,
		},
		{
			namespace: "fs", name: "delete",
			permission: domain.PermWorkspaceWrite,
			params:     []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			impl: e.pathOpImpl(e.DeleteFile),
		},
		{
			namespace: "fs", name: "mkdir",
			permission: domain.PermWorkspaceWrite,
			params:     []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			impl: e.pathOpImpl(e.MakeDir),
		},
		{
			namespace: "fs", name: "rename",
			permission: domain.PermWorkspaceWrite,
			params:     []api.ValueType{i32, i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.renameImpl,
		},

		// net: outbound fetch.
		{
			namespace: "net", name: "fetch",
			permission: domain.PermNetworkFetch,
			params:     []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32},
			impl: e.fetchImpl,
		},
	}
}

// --- operations (scope checks and side effects; the gate has already
// enforced the permission precondition when these run) ---

// ShowNotification forwards a guest notification to the UI layer.
func (e *Env) ShowNotification(ctx context.Context, level int32, message string) int32 {
	e.publish(ctx, domain.EventUINotification, map[string]any{
		"level":   level,
		"message": message,
	})
	return hostOK
}

// SetStatusBar forwards a status-bar update to the UI layer.
func (e *Env) SetStatusBar(ctx context.Context, message string) int32 {
	e.publish(ctx, domain.EventUIStatusBar, map[string]any{"message": message})
	return hostOK
}

// RegisterCommand records a command for the owning extension.
func (e *Env) RegisterCommand(ctx context.Context, id, title, category string) int32 {
	if id == "" {
		return hostDenied
	}
	cmd := domain.RegisteredCommand{ID: id, Title: title, Category: category, Owner: e.ExtensionID}
	if err := e.Commands.Register(cmd); err != nil {
		e.Logger.Warn("command registration rejected", "command", id, "error", err)
		return hostDenied
	}
	e.publish(ctx, domain.EventCommandRegistered, cmd)
	return hostOK
}

// ReadFile reads a workspace file. A path escaping the workspace returns
// the denied sentinel with zero underlying I/O.
func (e *Env) ReadFile(path string) ([]byte, int32) {
	resolved, ok := e.resolve(path)
	if !ok {
		return nil, hostDenied
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		e.Logger.Debug("fs read failed", "path", path, "error", err)
		return nil, hostDenied
	}
	return data, hostOK
}

// ReadDir lists a workspace directory as a JSON array of entries.
func (e *Env) ReadDir(path string) ([]byte, int32) {
	resolved, ok := e.resolve(path)
	if !ok {
		return nil, hostDenied
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, hostDenied
	}
	type dirEntry struct {
		Name string `json:"name"`
		Dir  bool   `json:"dir"`
	}
	out := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dirEntry{Name: entry.Name(), Dir: entry.IsDir()})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, hostDenied
	}
	return data, hostOK
}

// WriteFile writes a workspace file, creating parent-relative paths only
// within the workspace.
func (e *Env) WriteFile(path string, data []byte) int32 {
	resolved, ok := e.resolve(path)
	if !ok {
		return hostDenied
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		e.Logger.Debug("fs write failed", "path", path, "error", err)
		return hostDenied
	}
	return hostOK
}

// DeleteFile removes a workspace file or empty directory.
func (e *Env) DeleteFile(path string) int32 {
	resolved, ok := e.resolve(path)
	if !ok {
		return hostDenied
	}
	if err := os.Remove(resolved); err != nil {
		return hostDenied
	}
	return hostOK
}

// MakeDir creates a workspace directory tree.
func (e *Env) MakeDir(path string) int32 {
	resolved, ok := e.resolve(path)
	if !ok {
		return hostDenied
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return hostDenied
	}
	return hostOK
}

// RenamePath moves a workspace file. Both endpoints must resolve inside
// the workspace before any I/O happens.
func (e *Env) RenamePath(from, to string) int32 {
	src, ok := e.resolve(from)
	if !ok {
		return hostDenied
	}
	dst, ok := e.resolve(to)
	if !ok {
		return hostDenied
	}
	if err := os.Rename(src, dst); err != nil {
		return hostDenied
	}
	return hostOK
}

// FetchURL performs a guarded outbound request.
func (e *Env) FetchURL(ctx context.Context, url string) ([]byte, int32) {
	body, err := e.Fetcher.Fetch(ctx, e.ExtensionID, url)
	if err != nil {
		e.Logger.Debug("fetch failed", "extension", e.ExtensionID, "error", err)
		return nil, hostDenied
	}
	return body, hostOK
}

func (e *Env) resolve(path string) (string, bool) {
	resolved, err := e.Workspace.Resolve(path)
	if err != nil {
		e.Logger.Warn("workspace scope violation",
			"extension", e.ExtensionID,
			"path", path,
		)
		return "", false
	}
	return resolved, true
}

func (e *Env) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if e.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.Logger.Error("marshal event payload", "type", string(eventType), "error", err)
		return
	}
	e.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Extension: e.ExtensionID,
		Payload:   data,
	})
}

// --- wazero marshaling glue ---

func (e *Env) logImpl(ctx context.Context, mod api.Module, stack []uint64) {
	level := api.DecodeI32(stack[0])
	msg, err := ReadString(mod.Memory(), uint32(stack[1]), uint32(stack[2]))
	if err != nil {
		e.Logger.Error("guest log: read failed", "error", err)
		return
	}

	logger := e.Logger.With("extension", e.ExtensionID)
	switch {
	case level <= 0:
		logger.Debug(msg)
	case level == 1:
		logger.Info(msg)
	case level == 2:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}

// outStringImpl builds glue for host functions whose only job is writing
// one host-provided string into a guest output slot.
func (e *Env) outStringImpl(value func() string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		outPtr := uint32(stack[0])
		stack[0] = api.EncodeI32(e.writeOut(ctx, mod, outPtr, []byte(value())))
	}
}

func (e *Env) notificationImpl(ctx context.Context, mod api.Module, stack []uint64) {
	level := api.DecodeI32(stack[0])
	msg, err := ReadString(mod.Memory(), uint32(stack[1]), uint32(stack[2]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	stack[0] = api.EncodeI32(e.ShowNotification(ctx, level, msg))
}

func (e *Env) statusBarImpl(ctx context.Context, mod api.Module, stack []uint64) {
	msg, err := ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	stack[0] = api.EncodeI32(e.SetStatusBar(ctx, msg))
}

func (e *Env) registerCommandImpl(ctx context.Context, mod api.Module, stack []uint64) {
	mem := mod.Memory()
	id, err := ReadString(mem, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	title, err := ReadString(mem, uint32(stack[2]), uint32(stack[3]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	category, err := ReadString(mem, uint32(stack[4]), uint32(stack[5]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	stack[0] = api.EncodeI32(e.RegisterCommand(ctx, id, title, category))
}

func (e *Env) readFileImpl(ctx context.Context, mod api.Module, stack []uint64) {
	path, err := ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	outPtr := uint32(stack[2])

	data, code := e.ReadFile(path)
	if code != hostOK {
		stack[0] = api.EncodeI32(code)
		return
	}
	stack[0] = api.EncodeI32(e.writeOut(ctx, mod, outPtr, data))
}

func (e *Env) readDirImpl(ctx context.Context, mod api.Module, stack []uint64) {
	path, err := ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	outPtr := uint32(stack[2])

	data, code := e.ReadDir(path)
	if code != hostOK {
		stack[0] = api.EncodeI32(code)
		return
	}
	stack[0] = api.EncodeI32(e.writeOut(ctx, mod, outPtr, data))
}

func (e *Env) writeFileImpl(ctx context.Context, mod api.Module, stack []uint64) {
	mem := mod.Memory()
	path, err := ReadString(mem, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	data, err := ReadBytes(mem, uint32(stack[2]), uint32(stack[3]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	stack[0] = api.EncodeI32(e.WriteFile(path, data))
}

// pathOpImpl builds glue for host functions taking a single path and
// returning a status code.
func (e *Env) pathOpImpl(op func(string) int32) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		path, err := ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = api.EncodeI32(hostDenied)
			return
		}
		stack[0] = api.EncodeI32(op(path))
	}
}

func (e *Env) renameImpl(ctx context.Context, mod api.Module, stack []uint64) {
	mem := mod.Memory()
	from, err := ReadString(mem, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	to, err := ReadString(mem, uint32(stack[2]), uint32(stack[3]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	stack[0] = api.EncodeI32(e.RenamePath(from, to))
}

func (e *Env) fetchImpl(ctx context.Context, mod api.Module, stack []uint64) {
	url, err := ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		stack[0] = api.EncodeI32(hostDenied)
		return
	}
	outPtr := uint32(stack[2])

	body, code := e.FetchURL(ctx, url)
	if code != hostOK {
		stack[0] = api.EncodeI32(code)
		return
	}
	stack[0] = api.EncodeI32(e.writeOut(ctx, mod, outPtr, body))
}

// writeOut transfers data into guest memory and fills the guest's output
// slot. On any failure it writes the (0,0) sentinel pair so the guest
// never observes a dangling pointer.
func (e *Env) writeOut(ctx context.Context, mod api.Module, outPtr uint32, data []byte) int32 {
	mem := mod.Memory()
	ptr, size, err := WriteBytes(ctx, mod, mem, data)
	if err != nil {
		e.Logger.Error("guest transfer failed", "extension", e.ExtensionID, "error", err)
		_ = WriteResult(mem, outPtr, 0, 0)
		return hostDenied
	}
	if err := WriteResult(mem, outPtr, ptr, size); err != nil {
		Free(ctx, mod, ptr, size)
		return hostDenied
	}
	return hostOK
}
