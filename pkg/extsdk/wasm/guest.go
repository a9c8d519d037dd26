// Package wasm provides a guest SDK for building Glyph IDE WASM
// extensions.
//
// This package is designed for use with TinyGo and the WASI target.
// It documents the host function bindings, the memory management
// exports, and the lifecycle hooks the Glyph extension host expects.
//
// Usage (in a TinyGo extension):
//
//	//go:build tinygo
//
//	package main
//
//	import "unsafe"
//
//	// Import host functions from the glyph_v1 module:
//	//go:wasmimport glyph_v1 log
//	func hostLog(level int32, ptr uintptr, size uint32)
//
//	// Export required memory management:
//	//export malloc
//	func malloc(size uint32) uintptr { ... }
//
//	//export free
//	func free(ptr uintptr, size uint32) { ... }
//
//	// Export lifecycle hooks:
//	//export activate
//	func activate() { ... }
//
//	//export handle_command
//	func handleCommand(idPtr uintptr, idLen uint32, argsPtr uintptr, argsLen uint32) { ... }
//
// # Host Functions (glyph_v1 module)
//
// Every fallible host function returns an int32 status: 0 on success,
// -1 when the call was denied or failed. Functions that return data do
// so through an output slot: the guest passes a pointer to 8 bytes of
// its own memory, and the host writes two little-endian uint32 values
// there, the data pointer and the data length. A (0, 0) pair means the
// transfer failed; it never means an empty result. Returned data is
// allocated with the guest's malloc and is the guest's to free.
//
//   - log(level int32, ptr uintptr, len uint32)
//     Write a log message. Levels: 0=debug, 1=info, 2=warn, 3=error.
//     Always available.
//
//   - get_extension_id(out_ptr uintptr) int32
//     Write the extension's own ID. Always available.
//
//   - get_extension_version(out_ptr uintptr) int32
//     Write the extension's manifest version. Always available.
//
//   - storage_get_path(out_ptr uintptr) int32
//     Write the guest-visible private storage mount path. Requires
//     "storage:local"; the same grant preopens /storage read-write.
//
//   - ui_show_notification(level int32, ptr uintptr, len uint32) int32
//     Show a notification in the editor. Requires "ui:notifications".
//
//   - ui_set_status_bar(ptr uintptr, len uint32) int32
//     Set the extension's status bar text. Requires "ui:notifications".
//
//   - cmd_register(id_ptr uintptr, id_len uint32, title_ptr uintptr,
//     title_len uint32, cat_ptr uintptr, cat_len uint32) int32
//     Register a command. Requires "ui:commands".
//
//   - fs_read_file(path_ptr uintptr, path_len uint32, out_ptr uintptr) int32
//     Read a workspace file. Requires "workspace:read". Paths are
//     relative to the workspace root; escaping it fails with -1.
//
//   - fs_read_dir(path_ptr uintptr, path_len uint32, out_ptr uintptr) int32
//     List a workspace directory as a JSON array of {name, dir}.
//     Requires "workspace:read".
//
//   - fs_write_file(path_ptr uintptr, path_len uint32, data_ptr uintptr,
//     data_len uint32) int32
//     Write a workspace file. Requires "workspace:write".
//
//   - fs_delete(path_ptr uintptr, path_len uint32) int32
//     Remove a workspace file. Requires "workspace:write".
//
//   - fs_mkdir(path_ptr uintptr, path_len uint32) int32
//     Create a workspace directory. Requires "workspace:write".
//
//   - fs_rename(from_ptr uintptr, from_len uint32, to_ptr uintptr,
//     to_len uint32) int32
//     Move a workspace file. Requires "workspace:write".
//
//   - net_fetch(url_ptr uintptr, url_len uint32, out_ptr uintptr) int32
//     GET a URL and write the response body. Requires "network:fetch".
//     Requests to private address space are always refused.
//
// # Required Exports
//
// The guest module must export:
//
//   - memory — the linear memory; a module without it fails activation
//   - malloc(size uint32) uintptr — allocate memory for host-to-guest transfer
//   - free(ptr uintptr, size uint32) — free memory (can be a no-op with GC)
//
// # Optional Exports
//
//   - _initialize() — called once after instantiation, before activate
//   - activate() — called when the extension is activated
//   - deactivate() — called before the sandbox is torn down
//   - handle_command(id_ptr uintptr, id_len uint32, args_ptr uintptr,
//     args_len uint32) — generic handler for registered commands;
//     args is a JSON object
//   - cmd_<id>(args_ptr uintptr, args_len uint32) — dedicated handler
//     for one command; <id> is the command ID with every character
//     outside [A-Za-z0-9_] replaced by an underscore. Preferred over
//     handle_command when both exist.
//
// # Preopened Directories
//
//   - /ext — the installed package, always mounted read-only
//   - /storage — private read-write storage, mounted iff "storage:local"
//     is granted
//   - /workspace — the open project, mounted read-only iff
//     "workspace:read" is granted; writes go through fs_write_file
package wasm

// LogLevel constants for the host log function.
const (
	LogDebug int32 = 0
	LogInfo  int32 = 1
	LogWarn  int32 = 2
	LogError int32 = 3
)

// Notification levels for ui_show_notification.
const (
	NotifyInfo    int32 = 0
	NotifyWarning int32 = 1
	NotifyError   int32 = 2
)

// HostModule is the import namespace extensions link against.
const HostModule = "glyph_v1"
